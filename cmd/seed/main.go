// Command seed provisions a user and prints the device token it was given.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/udit1567/Home.auto/internal/config"
	"github.com/udit1567/Home.auto/internal/logging"
	"github.com/udit1567/Home.auto/internal/store"
	"github.com/udit1567/Home.auto/pkg/schema"
)

func main() {
	username := flag.String("username", "", "name of the user to create")
	token := flag.String("token", "", "auth token to assign (random when empty)")
	flag.Parse()

	if *username == "" {
		log.Fatal("-username is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config")
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	if *token == "" {
		*token, err = newToken()
		if err != nil {
			log.WithError(err).Fatal("token")
		}
	}

	ctx := context.Background()
	st, closeStore, err := store.Open(ctx, cfg.DatabaseURL, cfg.DataDir)
	if err != nil {
		log.WithError(err).Fatal("store")
	}
	defer closeStore()

	u := &schema.User{Username: *username, AuthToken: *token}
	if err := st.CreateUser(ctx, u); err != nil {
		log.WithError(err).Fatal("create user")
	}
	fmt.Printf("user_id=%d\ntoken=%s\n", u.ID, u.AuthToken)
}

func newToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
