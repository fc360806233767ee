package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"reel-tracker/infrastructure/utils"
)

const tokenTTL = 24 * time.Hour

// mintToken writes a bearer token for `reel-tracker token <subject> [role]`, signed with
// the configured secret key.
func mintToken(w io.Writer, secretKey string, args []string) error {
	if secretKey == "" {
		return errors.New("secret key is not configured")
	}
	if len(args) == 0 || len(args) > 2 || args[0] == "" {
		return errors.New("usage: reel-tracker token <subject> [role]")
	}
	now := utils.GetCurrentTime()
	claims := map[string]interface{}{
		"sub": args[0],
		"iat": now.Unix(),
		"exp": now.Add(tokenTTL).Unix(),
	}
	if len(args) == 2 {
		claims["role"] = args[1]
	}
	token, err := utils.GenerateToken(claims, secretKey)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
