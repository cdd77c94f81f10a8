package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/cobra"
)

// testToken returns an HS256 token accepted by a server running in test
// auth mode with the same secret.
func testToken(secret []byte, userID string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("TEST_JWT_SECRET must be set")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(secret)
}

func tokenCmd() *cobra.Command {
	var (
		count  int
		prefix string
		start  int
		output string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token [user]",
		Short: "Generate test-mode bearer tokens",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return errors.New("count must be at least 1")
			}
			if start < 1 {
				return errors.New("start index must be at least 1")
			}
			if len(args) > 0 && count > 1 {
				return errors.New("explicit user ID cannot be provided when generating multiple tokens")
			}
			tokens, err := generateTokens([]byte(os.Getenv("TEST_JWT_SECRET")), count, prefix, start, args, ttl)
			if err != nil {
				return err
			}
			if output != "" {
				if err := writeTokens(output, tokens); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), tokens[0])
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "number of tokens to generate")
	cmd.Flags().StringVar(&prefix, "prefix", "test-user", "prefix for generated user IDs when count > 1")
	cmd.Flags().IntVar(&start, "start", 1, "starting index for generated user IDs when count > 1")
	cmd.Flags().StringVar(&output, "output", "", "file to write generated tokens as a JSON array")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func generateTokens(secret []byte, count int, prefix string, start int, args []string, ttl time.Duration) ([]string, error) {
	tokens := make([]string, count)
	for i := 0; i < count; i++ {
		var userID string
		switch {
		case len(args) > 0:
			userID = args[0]
		case count == 1:
			userID = prefix
		default:
			userID = fmt.Sprintf("%s-%d", prefix, start+i)
		}
		tok, err := testToken(secret, userID, ttl)
		if err != nil {
			return nil, err
		}
		tokens[i] = tok
	}
	return tokens, nil
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
