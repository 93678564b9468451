package main

import (
	"fmt"
	"io"
	"time"

	"github.com/MegaGrindStone/chatrelay/internal/services"
)

func runToken(w io.Writer, cfgPath, userID, ttl string) error {
	lifetime, err := time.ParseDuration(ttl)
	if err != nil {
		return fmt.Errorf("invalid ttl: %w", err)
	}
	if lifetime <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	verifier, err := services.NewJWTVerifier(cfg.jwtConfig())
	if err != nil {
		return err
	}

	token, err := verifier.Sign(userID, lifetime)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(w, token)
	return err
}
