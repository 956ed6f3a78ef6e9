package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/PiyushMakhija26/secure-messaging/auth"
	"github.com/PiyushMakhija26/secure-messaging/config"
	"github.com/PiyushMakhija26/secure-messaging/globals"
	"github.com/PiyushMakhija26/secure-messaging/httpapi"
	"github.com/PiyushMakhija26/secure-messaging/persistence"
	"github.com/PiyushMakhija26/secure-messaging/types"
	"github.com/PiyushMakhija26/secure-messaging/ws"
	"github.com/folkengine/goname"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	addr       = pflag.String("addr", "localhost:8000", "service address (including port)")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key (optional)")

	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	relay     *ws.Relay
	persister persistence.Persister
	cfg       *config.Config
)

func main() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	go func() {
		<-c
		log.Fatal("interrupted!")
	}()

	pflag.CommandLine.AddFlagSet(config.GetFlagSet())
	pflag.Parse()
	log.SetFlags(0)

	var err error
	cfg, err = config.ReadConfiguration(*configPath, pflag.CommandLine)
	if err != nil {
		panic(err)
	}

	if cfg.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(cfg.LogLevel))
	}

	persister, err = persistence.NewPersister(cfg)
	if err != nil {
		panic(err)
	}
	if persister != nil {
		defer persister.Close()
	}

	relay = ws.NewRelay(cfg, persister)

	if persister != nil {
		sweeper := persistence.NewSweeper(persister, cfg)
		if err := sweeper.Start(); err != nil {
			panic(err)
		}
		defer sweeper.Stop()
	}

	handler, err := httpapi.NewHandler(persister, cfg)
	if err != nil {
		panic(err)
	}

	router := mux.NewRouter()
	handler.Routes(router)
	router.HandleFunc("/chat", websocketHandler).Methods(http.MethodGet)
	http.Handle("/", router)

	globals.AppLogger.Info("listening", "addr", *addr)
	if *sslCert != "" && *sslKey != "" {
		err = http.ListenAndServeTLS(*addr, *sslCert, *sslKey, nil)
	} else {
		err = http.ListenAndServe(*addr, nil)
	}
	globals.AppLogger.Error("stopped listening", "error", err)
}

// resolveUser maps the request's credentials to a user. JWT bearer tokens
// (from /api/auth/login) take precedence, then an OIDC id_token, then a
// generated guest identity.
func resolveUser(r *http.Request) (*types.User, error) {
	vals := r.URL.Query()

	if token := vals.Get("token"); token != "" {
		claims, err := auth.VerifyToken(token, cfg)
		if err != nil {
			return nil, err
		}
		user := &types.User{Id: claims.Subject}
		if persister != nil {
			if err := persister.GetUser(user); err != nil {
				return nil, err
			}
		} else {
			user.Username = claims.Username
		}
		return user, nil
	}

	if idToken := vals.Get("id_token"); idToken != "" {
		provider := vals.Get("provider")
		if provider == "" {
			return nil, errors.New("missing oidc provider")
		}
		email, err := auth.AuthenticateOIDC(idToken, provider, cfg)
		if err != nil {
			return nil, err
		}
		user := &types.User{
			Id:         email,
			Username:   email,
			Email:      email,
			Tags:       make(types.JSONStringMap),
			LastOnline: time.Now(),
		}
		if persister != nil {
			err := persister.GetUser(user)
			if errors.Is(err, persistence.ErrNotFound) {
				if err := persister.StoreUser(*user); err != nil {
					return nil, err
				}
			} else if err != nil {
				return nil, err
			}
		}
		return user, nil
	}

	nick := goname.New(goname.FantasyMap).FirstLast() + " (guest)"
	return &types.User{
		Id:       uuid.NewString(),
		Username: nick,
		Tags:     make(types.JSONStringMap),
	}, nil
}

// Handle incoming websockets
func websocketHandler(w http.ResponseWriter, r *http.Request) {
	user, err := resolveUser(r)
	if err != nil {
		globals.AppLogger.Info("could not authenticate websocket request", "error", err)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		globals.AppLogger.Error("websocket upgrade error", "error", err)
		return
	}

	globals.AppLogger.Debug("websocket connection established", "user", user.Username)

	c := ws.NewClient(relay, conn, user)
	go c.ReadLoop()
	go c.WriteLoop()
	c.Wait()
	globals.AppLogger.Debug("websocket connection closed", "user", user.Username)
}
