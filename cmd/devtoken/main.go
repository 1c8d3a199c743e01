// Command devtoken mints a bearer token for local development against a
// server running with the same JWT signing key.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"certledger/internal/identity"
	"certledger/internal/platform/config"
	"certledger/pkg/domain"
)

func main() {
	actorID := flag.String("actor", "", "actor id placed in the token")
	role := flag.String("role", "", "role: validator, approver, department_head, registrar, super_admin, issuer, holder")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	id, err := domain.ParseActorID(*actorID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "actor:", err)
		os.Exit(2)
	}
	r, err := domain.ParseRole(*role)
	if err != nil {
		fmt.Fprintln(os.Stderr, "role:", err)
		os.Exit(2)
	}

	svc := identity.NewJWTService(cfg.Server.JWTSigningKey, "certledger", "certledger-api")
	token, err := svc.GenerateToken(domain.Actor{ID: id, Role: r}, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sign:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
