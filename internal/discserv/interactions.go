// Package discserv provides a way to run an http server
// with logging and other necessary things
package discserv

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/mux"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/jdholdren/srwatch/internal/core"
	"github.com/jdholdren/srwatch/internal/metrics"
)

type Config struct {
	Port        int
	VerifyKey   string
	TLSCertFile string
	TLSKeyFile  string
}

// Notifier sends extra messages for an interaction after its response
type Notifier interface {
	Followup(ctx context.Context, interactionToken, content string, ephemeral bool) error
}

type Server struct {
	*http.Server

	cr  *core.Core
	key ed25519.PublicKey
	n   Notifier
	l   *zap.SugaredLogger

	certFile, keyFile string

	followups conc.WaitGroup
}

func New(l *zap.SugaredLogger, c Config, cr *core.Core, n Notifier, m *metrics.Metrics) (*Server, error) {
	r := mux.NewRouter()

	keyBytes, err := hex.DecodeString(c.VerifyKey)
	if err != nil {
		return nil, fmt.Errorf("error decoding verify key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("verify key is %d bytes, want %d", len(keyBytes), ed25519.PublicKeySize)
	}

	s := &Server{
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%d", c.Port),
			Handler:      r,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		cr:       cr,
		key:      ed25519.PublicKey(keyBytes),
		n:        n,
		l:        l,
		certFile: c.TLSCertFile,
		keyFile:  c.TLSKeyFile,
	}

	r.HandleFunc("/interactions", s.handleDiscordInteraction()).Methods(http.MethodPost)
	r.HandleFunc("/healthz", handleHealthCheck()).Methods(http.MethodGet)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	r.Use(loggingMiddleware(l))

	return s, nil
}

// Serve listens with TLS when a cert and key were configured
func (s *Server) Serve() error {
	if s.certFile != "" && s.keyFile != "" {
		return s.ListenAndServeTLS(s.certFile, s.keyFile)
	}
	return s.ListenAndServe()
}

// Drain waits for every pending followup message to be sent
func (s *Server) Drain() {
	s.followups.Wait()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func loggingMiddleware(l *zap.SugaredLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.RequestURI == "/healthz" || r.RequestURI == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			l.Infow("request handled", "uri", r.RequestURI, "method", r.Method, "status", rec.status, "took", time.Since(start))
		})
	}
}

// reply is a handler's answer: the interaction response, plus messages to send after it
type reply struct {
	resp      *discordgo.InteractionResponse
	followups []string
}

func (s *Server) handleDiscordInteraction() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !discordgo.VerifyInteraction(r, s.key) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		var i discordgo.Interaction
		if err := json.NewDecoder(r.Body).Decode(&i); err != nil {
			http.Error(w, fmt.Sprintf("error decoding: %s", err), http.StatusBadRequest)
			return
		}

		var (
			rep reply
			err error
		)
		switch i.Type {
		case discordgo.InteractionPing:
			rep = reply{resp: &discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong}}
		case discordgo.InteractionApplicationCommand:
			rep, err = s.dispatchCommand(r.Context(), &i)
		case discordgo.InteractionMessageComponent:
			rep, err = s.dispatchComponent(r.Context(), &i)
		default:
			http.Error(w, fmt.Sprintf("unsupported interaction type %d", i.Type), http.StatusBadRequest)
			return
		}
		if err != nil {
			rep = reply{resp: s.errorResponse(err, &i)}
		}

		w.Header().Add("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rep.resp); err != nil {
			s.l.Errorw("error writing interaction response", "err", err)
			return
		}

		if len(rep.followups) > 0 {
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			s.sendFollowups(i.Token, rep.followups)
		}
	}
}

// Followups go out after the handler returns, in order, once the response has
// been flushed.
func (s *Server) sendFollowups(token string, msgs []string) {
	s.followups.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		for _, msg := range msgs {
			if err := s.n.Followup(ctx, token, msg, true); err != nil {
				s.l.Errorw("error sending followup", "err", err)
				return
			}
		}
	})
}

// Turns a handler error into the ephemeral warning the invoker sees. Anything
// that isn't the user's fault is logged and hidden behind a generic message.
func (s *Server) errorResponse(err error, i *discordgo.Interaction) *discordgo.InteractionResponse {
	var (
		verr *core.ValidationError
		cerr *core.ConflictError
		msg  string
	)
	switch {
	case errors.As(err, &verr):
		msg = verr.Msg
	case errors.As(err, &cerr):
		msg = cerr.Msg
	default:
		s.l.Errorw("error handling interaction", "err", err, "guild_id", i.GuildID, "interaction_id", i.ID)
		msg = "something went wrong, try again later"
	}

	return message(warning(msg), true)
}

func handleHealthCheck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {}
}
