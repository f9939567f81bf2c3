package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"gorm.io/gorm"

	"github.com/kenn289/oryn-alert-hub-sub003/app/models"
	"github.com/kenn289/oryn-alert-hub-sub003/app/repository"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/database"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/env"
)

func main() {
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	database.SetupDatabase()
	repos := repository.NewRepositories(database.GetDB())

	switch command {
	case "create":
		if len(os.Args) < 5 {
			printUsage()
			os.Exit(1)
		}
		createUser(repos.User, os.Args[2], os.Args[3], os.Args[4], len(os.Args) > 5 && os.Args[5] == "admin")
	case "rotate-key":
		if len(os.Args) < 4 {
			printUsage()
			os.Exit(1)
		}
		rotateKey(repos.User, os.Args[2], os.Args[3])
	default:
		printUsage()
		os.Exit(1)
	}
}

// createUser provisions an account and issues its first API key. The raw key
// is only printed here; the database keeps the hash.
func createUser(users repository.UserRepository, name, email, password string, admin bool) {
	if _, err := users.GetByEmail(email); err == nil {
		log.Fatalf("A user with email %s already exists", email)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Fatalf("Failed to check for existing user: %v", err)
	}

	user, err := models.CreateUser(name, email, password)
	if err != nil {
		log.Fatalf("Failed to build user: %v", err)
	}
	if admin {
		user.Role = models.ROLE_ADMIN
	}

	if err := users.Create(user); err != nil {
		log.Fatalf("Failed to create user: %v", err)
	}

	settings, err := users.GetOrCreateSettings(user.ID)
	if err != nil {
		log.Fatalf("Failed to create user settings: %v", err)
	}

	rawKey, err := settings.IssueAPIKey()
	if err != nil {
		log.Fatalf("Failed to issue API key: %v", err)
	}
	if err := users.SaveSettings(settings); err != nil {
		log.Fatalf("Failed to save user settings: %v", err)
	}

	log.Printf("Created user %s (id=%d, role=%s)", user.Email, user.ID, user.Role)
	fmt.Printf("API key (shown once, store it now): %s\n", rawKey)
}

// rotateKey replaces the API key of an existing account. The account password
// is required so a leaked database dump alone cannot rotate keys.
func rotateKey(users repository.UserRepository, email, password string) {
	user, err := users.GetByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Fatalf("No user with email %s", email)
		}
		log.Fatalf("Failed to look up user: %v", err)
	}

	if !models.CheckPasswordHash(password, user.Password) {
		log.Fatalf("Password does not match for %s", email)
	}
	if !user.IsActive() {
		log.Fatalf("User %s is not active (status=%s)", email, user.Status)
	}

	settings, err := users.GetOrCreateSettings(user.ID)
	if err != nil {
		log.Fatalf("Failed to load user settings: %v", err)
	}

	rawKey, err := settings.IssueAPIKey()
	if err != nil {
		log.Fatalf("Failed to issue API key: %v", err)
	}
	if err := users.SaveSettings(settings); err != nil {
		log.Fatalf("Failed to save user settings: %v", err)
	}

	log.Printf("Rotated API key for %s", user.Email)
	fmt.Printf("API key (shown once, store it now): %s\n", rawKey)
}

func printUsage() {
	fmt.Println("Usage: useradmin <command> [args]")
	fmt.Println("Commands:")
	fmt.Println("  create <name> <email> <password> [admin] - Create a user and issue an API key")
	fmt.Println("  rotate-key <email> <password>            - Rotate the API key for an existing user")
}
