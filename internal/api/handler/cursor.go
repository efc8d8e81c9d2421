package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/intern-crm/internal/storage"
)

func DecodeFetchLogCursor(cursorStr string) (*storage.FetchLogCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var startedAt int64
	if _, err := fmt.Sscanf(parts[0], "%d", &startedAt); err != nil {
		return nil, fmt.Errorf("invalid started_at in cursor: %w", err)
	}

	return &storage.FetchLogCursor{
		StartedAt: time.Unix(0, startedAt).UTC(),
		FetchID:   parts[1],
	}, nil
}

func EncodeFetchLogCursor(cursor *storage.FetchLogCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.StartedAt.UnixNano(), cursor.FetchID)
	return base64.URLEncoding.EncodeToString([]byte(cs))
}
