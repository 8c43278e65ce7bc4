package session

import (
	"context"
	"fmt"
	"io"

	"classroom-quiz-service/internal/domain"
)

// CodeAlphabet holds 32 symbols without the look-alikes 0, 1, O and I.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the fixed length of a session code.
const CodeLength = 6

// GenerateCode draws a code from r. 256 is a multiple of 32, so taking each
// byte modulo the alphabet size is unbiased.
func GenerateCode(r io.Reader) (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("failed to generate session code: %w", err)
	}
	for i, b := range buf {
		buf[i] = CodeAlphabet[int(b)%len(CodeAlphabet)]
	}
	return string(buf), nil
}

// NewUniqueCode generates codes until exists reports a free one.
func NewUniqueCode(ctx context.Context, exists func(context.Context, string) (bool, error), r io.Reader, maxRetries int) (string, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	for i := 0; i < maxRetries; i++ {
		code, err := GenerateCode(r)
		if err != nil {
			return "", err
		}
		taken, err := exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("error checking code uniqueness: %w", err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", domain.ErrCodeExhausted, maxRetries)
}
