// Command admin holds operator tasks that have no HTTP surface: minting
// bearer tokens for service accounts and registering donors ahead of the
// registration workflow.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/bloodbank-api/internal/config"
	"github.com/jwalitptl/bloodbank-api/internal/model"
	"github.com/jwalitptl/bloodbank-api/internal/repository/postgres"
	"github.com/jwalitptl/bloodbank-api/pkg/auth"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: admin <token|add-donor> [flags]")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "token":
		err = runToken(cfg, os.Args[2:])
	case "add-donor":
		err = runAddDonor(cfg, os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runToken(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	subject := fs.String("sub", "", "actor id")
	name := fs.String("name", "", "actor display name")
	role := fs.String("role", "viewer", "role")
	ttl := fs.Duration("ttl", cfg.Auth.TokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return fmt.Errorf("-sub is required")
	}

	tokens := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, *ttl)
	token, err := tokens.GenerateAccessToken(*subject, *name, strings.ToLower(*role))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runAddDonor(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("add-donor", flag.ExitOnError)
	ref := fs.String("ref", "", "donor reference code")
	first := fs.String("first", "", "first name")
	last := fs.String("last", "", "last name")
	email := fs.String("email", "", "email")
	phone := fs.String("phone", "", "phone")
	bloodType := fs.String("blood-type", string(model.BloodTypeUnknown), "blood type")
	status := fs.String("status", string(model.DonorStatusApproved), "donor status")
	synthetic := fs.Bool("synthetic", false, "mark as synthetic test data")
	if err := fs.Parse(args); err != nil {
		return err
	}

	bt, ok := model.ParseBloodType(*bloodType)
	if !ok {
		return fmt.Errorf("invalid blood type %q", *bloodType)
	}
	if *ref == "" {
		return fmt.Errorf("-ref is required")
	}
	if !strings.EqualFold(cfg.Storage.Driver, "postgres") {
		return fmt.Errorf("add-donor needs the postgres storage driver")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	donor := &model.Donor{
		ID:            uuid.New(),
		ReferenceCode: *ref,
		FirstName:     *first,
		LastName:      *last,
		Email:         *email,
		Phone:         *phone,
		BloodType:     bt,
		Status:        model.DonorStatus(strings.ToLower(*status)),
		IsSynthetic:   *synthetic,
		CreatedAt:     time.Now().UTC(),
	}
	if err := postgres.NewDonorRepository(postgres.NewBaseRepository(db)).CreateDonor(ctx, donor); err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(donor)
}
