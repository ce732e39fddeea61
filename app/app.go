package chatapp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/tharunsathyamoorthy/chat-application/core"
	"github.com/tharunsathyamoorthy/chat-application/router"
)

type App struct {
	config      *Config
	db          *core.SQLiteDB
	context     context.Context
	server      *http.Server
	logger      *slog.Logger
	router      *router.Router
	eventRouter *core.EventRouter
	wsManager   *core.ConnManager

	exit chan int

	messageStore core.MessageStore
	attachments  *core.BadgerAttachmentStore
	chatLog      *core.ChatLog

	chatHandler *ChatHandler

	cleanupFuncs []func(context.Context)

	staticFS *StaticFS

	wg sync.WaitGroup
}

func New(ctx context.Context, config *Config, staticFS *StaticFS) *App {
	var err error
	app := &App{
		exit: make(chan int),
	}
	if ctx == nil {
		ctx, _ = signal.NotifyContext(
			context.Background(),
			syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	}
	app.context = ctx

	if config == nil {
		var err error
		config, err = LoadConfig()
		if err != nil {
			failed(1, "failed to load config: %v\n", err)
		}
	}
	if err := config.Validate(); err != nil {
		failed(1, FormatValidationErrors(err))
	}
	app.config = config

	app.staticFS = staticFS

	app.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				source, _ := a.Value.Any().(*slog.Source)
				if source != nil {
					source.File = filepath.Base(source.File)
				}
			}
			return a
		},
	}))

	sqliteOptions := &core.SQLiteDBOption{
		Mode:        "rwc",
		Cache:       "shared",
		JournalMode: "WAL",
	}
	app.db, err = core.NewSQLiteDB(app.config.SQLite.File, app.config.SQLite.Migrations, sqliteOptions)
	if err != nil {
		failed(1, "failed to open database: %v\n", err)
	}
	app.AddCleanupFunc(func(ctx context.Context) {
		app.db.Close()
	})
	if err := app.db.Migrate(); err != nil {
		failed(1, "failed to migrate database: %v\n", err)
	}

	app.messageStore = core.NewSQLiteMessageStore(app.db.DB)

	app.attachments, err = core.NewBadgerAttachmentStore(app.config.Attachments.Dir, app.logger)
	if err != nil {
		failed(1, "failed to open attachment store: %v\n", err)
	}
	app.AddCleanupFunc(func(ctx context.Context) {
		app.attachments.Close()
	})

	app.wsManager = core.NewConnManager(app.context, &app.wg, app.logger)
	app.chatLog = core.NewChatLog(app.messageStore, app.wsManager, app.logger)
	app.wsManager.OnConnect(func(conn *core.Conn) error {
		_, err := app.chatLog.Join(app.context, conn)
		return err
	})

	app.eventRouter = core.NewEventRouter(app.context, app.logger, app.wsManager.Receive())
	app.eventRouter.On(core.SendMessageEvent, app.SendMessageEventHandler)
	app.eventRouter.On(core.DeleteMessageEvent, app.DeleteMessageEventHandler)

	app.chatHandler = NewChatHandler(app.chatLog, app.attachments)

	app.router = router.New(router.WithLogger(app.logger))

	app.router.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   app.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
	}))

	app.router.Router.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		if err := app.wsManager.Connect(w, r); err != nil {
			app.logger.Error(fmt.Sprintf("websocket connect: %v", err))
		}
	})

	api := router.New(router.WithLogger(app.logger))

	api.Route("/chats", func(r *router.Router) {
		r.Get("/", app.chatHandler.GetMessagesHandler)
		r.Post("/", app.chatHandler.SendMessageHandler)
	})

	api.Post("/upload", app.chatHandler.UploadAttachmentHandler)
	api.Get("/uploads/{ref}", app.chatHandler.GetAttachmentHandler)

	app.router.Mount("/api", api)

	if app.staticFS != nil {
		app.router.Router.With(staticFS.EtagMiddleware()).Mount("/", http.FileServer(staticFS))
	}

	app.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", app.config.Hostname, app.config.Port),
		Handler: app.router.Router,
		BaseContext: func(listener net.Listener) context.Context {
			return app.context
		},
	}
	if app.config.TLS.Key != "" && app.config.TLS.Crt != "" {
		app.server.TLSConfig = &defaultTLSConfig
	}

	return app
}

func (app *App) Start() {
	app.wg.Add(1)
	go app.eventRouter.Listen(&app.wg)
	app.AddCleanupFunc(func(ctx context.Context) {
		app.wsManager.Close()
	})

	// listen for shutdown signal
	go func() {
		<-app.context.Done()
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		var wg sync.WaitGroup

		for _, f := range app.cleanupFuncs {
			wg.Add(1)
			func(wg *sync.WaitGroup) {
				defer wg.Done()
				f(closeCtx)
			}(&wg)

		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			app.logger.Info("app shutdown gracefully")
			app.exit <- 0
		case <-closeCtx.Done():
			app.logger.Info("app shutdown timed out")
			app.exit <- 1

		}

	}()

	app.AddCleanupFunc(func(ctx context.Context) {
		app.server.Shutdown(ctx)
	})
	app.logger.Info(fmt.Sprintf("app running on: %s:%d",
		app.config.Hostname, app.config.Port))

	var err error
	if app.config.TLS.Key != "" && app.config.TLS.Crt != "" {
		err = app.server.ListenAndServeTLS(app.config.TLS.Crt, app.config.TLS.Key)
	} else {

		err = app.server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		failed(1, "server error: %v\n", err)
	}

	code := <-app.exit
	if code != 0 {
		failed(code, "app exit with code: %d\n", code)
	} else {
		os.Exit(code)
	}

}

func (app *App) AddCleanupFunc(f func(context.Context)) {
	app.cleanupFuncs = append(app.cleanupFuncs, f)
}

func failed(code int, s string, args ...interface{}) {
	fmt.Printf(s, args...)
	os.Exit(code)
}
