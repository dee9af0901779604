package upload

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name     string
		fileName string
		mimeType string
		size     int64
		wantErr  bool
	}{
		{name: "pdf under limit", fileName: "resume.pdf", mimeType: "application/pdf", size: 1024},
		{name: "jpeg at limit", fileName: "photo.jpg", mimeType: "image/jpeg", size: MaxSizeBytes},
		{name: "png", fileName: "board.png", mimeType: "image/png", size: 2048},
		{name: "over limit", fileName: "big.pdf", mimeType: "application/pdf", size: MaxSizeBytes + 1, wantErr: true},
		{name: "disallowed type", fileName: "notes.txt", mimeType: "text/plain", size: 10, wantErr: true},
		{name: "empty file", fileName: "empty.pdf", mimeType: "application/pdf", size: 0, wantErr: true},
		{name: "missing name", fileName: "", mimeType: "image/png", size: 10, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.fileName, tc.mimeType, tc.size)
			if !tc.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.NotEmpty(t, verr.Reason)
		})
	}
}
