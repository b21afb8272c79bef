package main

import (
	"io"
	"log"
	"os"

	"github.com/danpav1/Auth_Portal_BackEnd/internal/config"
	"github.com/danpav1/Auth_Portal_BackEnd/internal/logging"
	"github.com/danpav1/Auth_Portal_BackEnd/internal/repository/postgres"
	"github.com/danpav1/Auth_Portal_BackEnd/internal/service"
	transport "github.com/danpav1/Auth_Portal_BackEnd/internal/transport/http"
	"github.com/danpav1/Auth_Portal_BackEnd/internal/transport/mail"
	"github.com/danpav1/Auth_Portal_BackEnd/internal/util"
)

func main() {
	cfg := config.Load()

	if cfg.LogstashTCPAddr != "" {
		writer, err := logging.NewLogstashWriter(cfg.LogstashTCPAddr)
		if err != nil {
			log.Printf("logstash mirror disabled: %v", err)
		} else {
			defer writer.Close()
			log.SetOutput(io.MultiWriter(os.Stdout, writer))
		}
	}

	db, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer db.Close()

	userRepo := postgres.NewUserRepo(db)
	resetRepo := postgres.NewPasswordResetRepo(db)

	mailer := mail.NewPasswordResetMailer(
		cfg.SMTPHost,
		cfg.SMTPPort,
		cfg.SMTPUsername,
		cfg.SMTPPassword,
		cfg.SMTPFrom,
		cfg.SMTPUseTLS,
	)

	jwtManager := util.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL)

	auth := service.NewAuthService(
		userRepo,
		resetRepo,
		mailer,
		jwtManager,
		cfg.PasswordResetTTL,
		cfg.PasswordResetOTPLength,
		cfg.PasswordMinLength,
		cfg.PasswordResetRejectReuse,
	)

	e := transport.NewRouter(cfg.AllowOrigins)
	transport.RegisterAuth(e, auth)
	transport.RegisterPages(e, cfg.FrontendBaseURL)
	transport.RegisterSwagger(e)

	e.Logger.Fatal(e.Start(":" + cfg.Port))
}
