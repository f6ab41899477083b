// cmd/portalctl/main.go
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"gorm.io/gorm"

	"github.com/javajoker/popup-portal/internal/config"
	"github.com/javajoker/popup-portal/internal/database"
	"github.com/javajoker/popup-portal/internal/models"
	"github.com/javajoker/popup-portal/internal/services"
	"github.com/javajoker/popup-portal/internal/utils"
)

func main() {
	app := &cli.App{
		Name:  "portalctl",
		Usage: "Operator tooling for the popup portal",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Apply database migrations",
				Action: migrate,
			},
			{
				Name:  "popup",
				Usage: "Manage popups",
				Subcommands: []*cli.Command{
					{
						Name:  "create",
						Usage: "Create a popup",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "slug", Required: true, Usage: "URL-safe identifier"},
							&cli.StringFlag{Name: "name", Required: true, Usage: "Display name"},
							&cli.StringFlag{Name: "fee", Value: "0", Usage: "Application fee, 0 for none"},
							&cli.StringFlag{Name: "currency", Usage: "ISO currency code, defaults to DEFAULT_CURRENCY"},
							&cli.BoolFlag{Name: "requires-approval", Usage: "Send every submitted application to review"},
							&cli.StringSliceFlag{Name: "discount-field", Usage: "Form field that signals a discount request"},
							&cli.PathFlag{Name: "form-schema", Usage: "JSON Schema file for application data"},
						},
						Action: createPopup,
					},
					{
						Name:  "set-fee",
						Usage: "Set the application fee of a popup that has no applications yet",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "id", Required: true, Usage: "Popup ID"},
							&cli.StringFlag{Name: "fee", Required: true, Usage: "Application fee, 0 for none"},
							&cli.StringFlag{Name: "currency", Usage: "ISO currency code"},
						},
						Action: setFee,
					},
				},
			},
			{
				Name:  "app-key",
				Usage: "Manage reviewer API keys",
				Subcommands: []*cli.Command{
					{
						Name:   "create",
						Usage:  "Create an API key; it is printed once",
						Flags:  []cli.Flag{&cli.StringFlag{Name: "name", Required: true}},
						Action: createAppKey,
					},
					{
						Name:   "revoke",
						Usage:  "Revoke an API key by prefix",
						Flags:  []cli.Flag{&cli.StringFlag{Name: "prefix", Required: true}},
						Action: revokeAppKey,
					},
				},
			},
			{
				Name:  "token",
				Usage: "Issue a development access token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user-id", Usage: "Human ID, random when omitted"},
					&cli.StringFlag{Name: "email", Value: "dev@example.com"},
					&cli.StringFlag{Name: "type", Value: string(models.UserTypeCitizen), Usage: "citizen or admin"},
					&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
				},
				Action: issueToken,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("portalctl failed")
	}
}

type env struct {
	cfg *config.Config
	db  *gorm.DB
	log *logrus.Logger
}

func connect() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := cfg.NewLogger()

	db, err := database.Initialize(cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &env{cfg: cfg, db: db, log: log}, nil
}

func (e *env) close() {
	database.Close(e.db, e.log)
}

func migrate(c *cli.Context) error {
	e, err := connect()
	if err != nil {
		return err
	}
	defer e.close()

	return database.RunMigrations(e.db, e.log)
}

func createPopup(c *cli.Context) error {
	fee, err := decimal.NewFromString(c.String("fee"))
	if err != nil {
		return fmt.Errorf("invalid fee %q: %w", c.String("fee"), err)
	}

	req := &services.CreatePopupRequest{
		Slug:             c.String("slug"),
		Name:             c.String("name"),
		RequiresApproval: c.Bool("requires-approval"),
		ApplicationFee:   fee,
		Currency:         c.String("currency"),
		DiscountFields:   c.StringSlice("discount-field"),
	}
	if path := c.Path("form-schema"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read form schema: %w", err)
		}
		if err := json.Unmarshal(raw, &req.FormSchema); err != nil {
			return fmt.Errorf("form schema is not valid JSON: %w", err)
		}
	}
	if err := utils.ValidateStruct(req); err != nil {
		return err
	}

	e, err := connect()
	if err != nil {
		return err
	}
	defer e.close()

	policies := services.NewPolicyService(e.db, services.FieldDiscountEvaluator{}, e.cfg.Payment.DefaultCurrency)
	popup, err := policies.CreatePopup(c.Context, req)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "created popup %s (%s)\n", popup.ID, popup.Slug)
	return nil
}

func setFee(c *cli.Context) error {
	id, err := uuid.Parse(c.String("id"))
	if err != nil {
		return fmt.Errorf("invalid popup id: %w", err)
	}
	fee, err := decimal.NewFromString(c.String("fee"))
	if err != nil {
		return fmt.Errorf("invalid fee %q: %w", c.String("fee"), err)
	}

	e, err := connect()
	if err != nil {
		return err
	}
	defer e.close()

	policies := services.NewPolicyService(e.db, services.FieldDiscountEvaluator{}, e.cfg.Payment.DefaultCurrency)
	popup, err := policies.SetApplicationFee(c.Context, id, fee, c.String("currency"))
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "popup %s fee set to %s %s\n", popup.ID, fee.StringFixed(2), popup.Currency)
	return nil
}

func createAppKey(c *cli.Context) error {
	e, err := connect()
	if err != nil {
		return err
	}
	defer e.close()

	app, key, err := services.NewAppKeyService(e.db, e.log).CreateKey(c.Context, c.String("name"))
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "app:    %s\nprefix: %s\nkey:    %s\n", app.Name, app.KeyPrefix, key)
	return nil
}

func revokeAppKey(c *cli.Context) error {
	e, err := connect()
	if err != nil {
		return err
	}
	defer e.close()

	if err := services.NewAppKeyService(e.db, e.log).RevokeKey(c.Context, c.String("prefix")); err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "revoked %s\n", c.String("prefix"))
	return nil
}

func issueToken(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.IsProduction() {
		return fmt.Errorf("development tokens cannot be issued in production")
	}

	userID := uuid.New()
	if raw := c.String("user-id"); raw != "" {
		if userID, err = uuid.Parse(raw); err != nil {
			return fmt.Errorf("invalid user id: %w", err)
		}
	}

	userType := models.UserType(c.String("type"))
	if userType != models.UserTypeCitizen && userType != models.UserTypeAdmin {
		return fmt.Errorf("unknown user type %q", userType)
	}

	utils.SetJWTSecret(cfg.JWT.SecretKey)
	token, err := utils.GenerateJWT(userID, c.String("email"), string(userType), c.Duration("ttl"))
	if err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, token)
	return nil
}
