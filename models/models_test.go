package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(n int64) *int64 { return &n }

func TestMarshalState(t *testing.T) {
	tests := []struct {
		name  string
		state DataState
		want  string
	}{
		{
			name:  "idle has only status",
			state: Idle{},
			want:  `{"status":"idle"}`,
		},
		{
			name:  "nil is idle",
			state: nil,
			want:  `{"status":"idle"}`,
		},
		{
			name:  "downloading without total",
			state: Downloading{Progress: 0, DownloadedBytes: 10, Message: MsgDownloading},
			want:  `{"status":"downloading","progress":0,"downloadedBytes":10,"message":"ダウンロード中..."}`,
		},
		{
			name:  "downloading with total",
			state: Downloading{Progress: 50, DownloadedBytes: 10, TotalBytes: int64Ptr(20)},
			want:  `{"status":"downloading","progress":50,"downloadedBytes":10,"totalBytes":20}`,
		},
		{
			name:  "update available",
			state: UpdateAvailable{ServerDataDate: "2025-01-02"},
			want:  `{"status":"update-available","serverDataDate":"2025-01-02"}`,
		},
		{
			name:  "failed",
			state: Failed{Kind: KindNetwork, Message: "boom"},
			want:  `{"status":"error","kind":"network","error":"boom"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalState(tt.state)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestProgressPercent(t *testing.T) {
	assert.Equal(t, 0, Progress{DownloadedBytes: 100}.Percent())
	assert.Equal(t, 0, Progress{DownloadedBytes: 100, TotalBytes: int64Ptr(0)}.Percent())
	assert.Equal(t, 50, Progress{DownloadedBytes: 50, TotalBytes: int64Ptr(100)}.Percent())
	assert.Equal(t, 33, Progress{DownloadedBytes: 1, TotalBytes: int64Ptr(3)}.Percent())
	assert.Equal(t, 100, Progress{DownloadedBytes: 100, TotalBytes: int64Ptr(100)}.Percent())
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"capability", &CapabilityError{Reason: "x"}, KindCapability},
		{"wrapped network", fmt.Errorf("outer: %w", &NetworkError{URL: "u", StatusCode: 404}), KindNetwork},
		{"format", &FormatError{Op: "decompress"}, KindFormat},
		{"state", &StateError{Op: "query", Need: "open first"}, KindState},
		{"other", errors.New("plain"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestNetworkErrorMessage(t *testing.T) {
	err := &NetworkError{URL: "http://x/date.txt", StatusCode: 503}
	assert.Equal(t, "fetch http://x/date.txt: unexpected status 503", err.Error())

	cause := errors.New("dial tcp: refused")
	err = &NetworkError{URL: "http://x", Err: cause}
	assert.ErrorIs(t, err, cause)
}
