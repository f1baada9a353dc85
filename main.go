package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-backend/internal/catalog"
	"library-backend/internal/circulation"
	"library-backend/internal/platform/auth"
	"library-backend/internal/platform/config"
	"library-backend/internal/platform/db"
	"library-backend/internal/platform/validation"
	"library-backend/internal/users"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "library-backend",
		Short:         "図書館の蔵書・貸出管理 API サーバ",
		SilenceUsage:  true,
		SilenceErrors: false,
		// サブコマンド無しは serve と同じ
		RunE: func(cmd *cobra.Command, args []string) error { return serve(cfgPath) },
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultPath, "設定ファイルのパス")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "API サーバを起動する",
		RunE:  func(cmd *cobra.Command, args []string) error { return serve(cfgPath) },
	})
	root.AddCommand(newUserAddCmd(&cfgPath))
	return root
}

func serve(cfgPath string) error {
	// 設定読み込み
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	log.Printf("[INFO] mode:%s version:%s", cfg.Mode, cfg.Version)

	conn, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Printf("[INFO] connected to DB (%s)", conn.Dialect)

	if err := validation.Register(); err != nil {
		return err
	}

	secret := []byte(cfg.Auth.JWTSecret)
	if len(secret) == 0 {
		// dev のみ到達（release は Validate で弾く）。再起動でトークンは全て無効になる
		secret = randomSecret()
		log.Println("[WARN] auth.jwt_secret is empty; using a random secret for this process")
	}

	if cfg.Mode == config.ModeRelease {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	if cfg.Mode == config.ModeDev {
		// CORS（開発中のみ必要）
		origins := cfg.Server.CORSOrigins
		if len(origins) == 0 {
			origins = []string{"http://localhost:3000"}
		}
		r.Use(cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Length", "Location"},
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	// ヘルス
	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := conn.PingContext(ctx); err != nil {
			c.String(http.StatusServiceUnavailable, "db unavailable")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	requireAuth := auth.RequireAuth(secret)
	api := r.Group("/api/v1")

	auth.RegisterRoutes(api, auth.NewService(auth.NewStore(conn.DB), secret, cfg.Auth.TokenTTL))
	users.RegisterRoutes(api, requireAuth, users.NewService(users.NewStore(conn.DB)))
	catalog.RegisterRoutes(api, requireAuth, catalog.NewService(catalog.NewStore(conn)))
	circulation.RegisterRoutes(api, requireAuth, circulation.NewService(
		circulation.NewSQLStore(conn),
		circulation.Config{
			DefaultLoanDays:         cfg.Library.DefaultLoanDays,
			MaxActiveBorrowsPerUser: cfg.Library.MaxActiveBorrowsPerUser,
		},
	))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.Certificate.Cert != "" && cfg.Certificate.Key != "" {
			// TLS証明書は config/tls/<mode>/ 以下
			dir := filepath.Join("config", "tls", cfg.Mode)
			log.Printf("[INFO] listening on https://%s", cfg.Server.Addr)
			err = srv.ListenAndServeTLS(filepath.Join(dir, cfg.Certificate.Cert), filepath.Join(dir, cfg.Certificate.Key))
		} else {
			log.Printf("[WARN] certificate not configured; listening on http://%s", cfg.Server.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("[INFO] shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newUserAddCmd(cfgPath *string) *cobra.Command {
	var first, last string

	cmd := &cobra.Command{
		Use:   "useradd <email>",
		Short: "利用者を登録する（パスワードは端末から入力）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			conn, err := db.Connect(cfg.DB)
			if err != nil {
				return err
			}
			defer conn.Close()

			password, err := readPassword(cmd)
			if err != nil {
				return err
			}

			u, err := users.NewService(users.NewStore(conn.DB)).Create(cmd.Context(), users.CreateUserRequest{
				FirstName: first,
				LastName:  last,
				Email:     args[0],
				Password:  password,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user id=%d email=%s\n", u.ID, u.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&first, "first-name", "", "名")
	cmd.Flags().StringVar(&last, "last-name", "", "姓")
	_ = cmd.MarkFlagRequired("first-name")
	_ = cmd.MarkFlagRequired("last-name")
	return cmd
}

// readPassword は端末ならエコー無しで2回聞く。パイプ入力なら1行読む
func readPassword(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	p1, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Confirm: ")
	p2, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if string(p1) != string(p2) {
		return "", errors.New("passwords do not match")
	}
	return string(p1), nil
}

func randomSecret() []byte {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		log.Fatalf("[ERROR] generate secret: %v", err)
	}
	return []byte(hex.EncodeToString(b))
}
