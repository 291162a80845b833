// Command aegis-gatewayd is the trust proxy's daemon (spec §6 / C11):
// a JSON/HTTP listener for the card-network webhook and the agent-facing
// gatekeeper/token-vault verbs, plus a Unix-domain control socket the
// advocate CLI uses for break-glass review. Adapted from the teacher's
// cmd/sentinel wiring shape (kingpin flags, a single composition root)
// and server/unix_server.go's peer-credential control plane.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/alecthomas/kingpin/v2"
	"golang.org/x/term"

	"github.com/aegistrust/proxy/breakglass"
	"github.com/aegistrust/proxy/cardauth"
	"github.com/aegistrust/proxy/config"
	"github.com/aegistrust/proxy/crypto"
	trusterrors "github.com/aegistrust/proxy/errors"
	"github.com/aegistrust/proxy/entrypoints"
	"github.com/aegistrust/proxy/gatekeeper"
	"github.com/aegistrust/proxy/governor"
	"github.com/aegistrust/proxy/ledger"
	"github.com/aegistrust/proxy/logging"
	"github.com/aegistrust/proxy/notifier"
	"github.com/aegistrust/proxy/poa"
	"github.com/aegistrust/proxy/ratelimit"
	"github.com/aegistrust/proxy/scam"
	"github.com/aegistrust/proxy/server"
	"github.com/aegistrust/proxy/tokenvault"
)

// Version is provided at compile time.
var Version = "dev"

func main() {
	app := kingpin.New("aegis-gatewayd", "Fiduciary protection gateway: scam interception, transaction governance, and break-glass escalation")
	app.Version(Version)

	httpAddr := app.Flag("http-addr", "address for the JSON/HTTP listener").Default(":8443").String()
	controlSocket := app.Flag("control-socket", "Unix socket path for the advocate control plane (default: a temp socket)").String()
	storeKind := app.Flag("store", "persistence backend: memory or dynamodb").Default("memory").Enum("memory", "dynamodb")
	tablePrefix := app.Flag("table-prefix", "DynamoDB table name prefix").Default("aegis").String()
	scamPatternsFile := app.Flag("scam-patterns-file", "path to the scam pattern table (YAML)").String()
	riskTableFile := app.Flag("risk-table-file", "path to the transaction risk table (YAML)").String()
	mccMapFile := app.Flag("mcc-map-file", "path to the MCC-to-category map (YAML)").String()
	keysFile := app.Flag("keys-file", "path to key material configuration (YAML)").String()
	ephemeralKeys := app.Flag("ephemeral-keys", "generate random keys in-process; local development only, refuses in combination with --store=dynamodb").Bool()
	cardSecretEnv := app.Flag("card-secret-env", "environment variable holding the hex-encoded card-network webhook HMAC secret").Default("AEGIS_CARD_PROVIDER_SECRET").String()
	snsTopicARN := app.Flag("sns-topic-arn", "SNS topic ARN for break-glass advocate notifications").String()
	webhookURL := app.Flag("webhook-url", "webhook URL for break-glass advocate notifications").String()
	confirmUnlock := app.Flag("confirm-unlock", "require an operator to confirm before starting with non-ephemeral key material").Bool()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	if err := run(runConfig{
		httpAddr:         *httpAddr,
		controlSocket:    *controlSocket,
		storeKind:        *storeKind,
		tablePrefix:      *tablePrefix,
		scamPatternsFile: *scamPatternsFile,
		riskTableFile:    *riskTableFile,
		mccMapFile:       *mccMapFile,
		keysFile:         *keysFile,
		ephemeralKeys:    *ephemeralKeys,
		cardSecretEnv:    *cardSecretEnv,
		snsTopicARN:      *snsTopicARN,
		webhookURL:       *webhookURL,
		confirmUnlock:    *confirmUnlock,
	}); err != nil {
		log.Fatalf("aegis-gatewayd: %v", err)
	}
}

type runConfig struct {
	httpAddr         string
	controlSocket    string
	storeKind        string
	tablePrefix      string
	scamPatternsFile string
	riskTableFile    string
	mccMapFile       string
	keysFile         string
	ephemeralKeys    bool
	cardSecretEnv    string
	snsTopicARN      string
	webhookURL       string
	confirmUnlock    bool
}

func run(rc runConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := logging.NewJSONLogger(os.Stdout)

	vault, err := buildVault(rc)
	if err != nil {
		return fmt.Errorf("build crypto vault: %w", err)
	}

	var ledgerStore ledger.Store
	var poaStore poa.Store
	var tokenStore tokenvault.Store
	var bgStore breakglass.Store

	if rc.storeKind == "dynamodb" {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("load AWS config: %w", err)
		}
		ledgerStore = ledger.NewDynamoDBStore(cfg, rc.tablePrefix+"-ledger")
		poaStore = poa.NewDynamoDBStore(cfg, rc.tablePrefix+"-poa")
		tokenStore = tokenvault.NewDynamoDBStore(cfg, rc.tablePrefix+"-tokens")
		bgStore = breakglass.NewDynamoDBStore(cfg, rc.tablePrefix+"-breakglass")
	} else {
		ledgerStore = ledger.NewMemoryStore()
		poaStore = poa.NewMemoryStore()
		tokenStore = tokenvault.NewMemoryStore()
		bgStore = breakglass.NewMemoryStore()
	}

	l := ledger.New(ledgerStore, vault)

	notif, err := buildNotifier(ctx, rc)
	if err != nil {
		return fmt.Errorf("build notifier: %w", err)
	}
	bgLimiter, err := ratelimit.NewTokenBucketLimiter(ratelimit.Config{
		RequestsPerWindow: 5,
		Window:            10 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("build break-glass rate limiter: %w", err)
	}
	bg := breakglass.New(bgStore, vault, notif, breakglass.NewStubLivenessEvaluator(), l, breakglass.NewRateLimitGuard(bgLimiter))

	// poa.Registry needs tokens for cascade-delete; tokenvault.Vault needs
	// a poaValidator for reveal-time checks. Neither package imports the
	// other (it would cycle), so build the registry once to satisfy the
	// vault's narrow interface, then rebuild it with the vault wired in as
	// its TokenCascade. Both instances share the same store and ledger.
	poas := poa.New(poaStore, l, nil)
	tokens := tokenvault.New(tokenStore, vault, poas)
	poas = poa.New(poaStore, l, tokens)
	gk := gatekeeper.New(poas, l, bg)

	var cardSvc *cardauth.Service
	if secretHex := os.Getenv(rc.cardSecretEnv); secretHex != "" {
		secret, err := decodeHexSecret(secretHex)
		if err != nil {
			return fmt.Errorf("decode %s: %w", rc.cardSecretEnv, err)
		}
		mccTable := governor.DefaultMCCTable()
		riskTable := governor.DefaultRiskTable()
		if rc.mccMapFile != "" {
			res, err := config.LoadFile(config.DocTypeMCCMap, rc.mccMapFile)
			if err != nil {
				return fmt.Errorf("load MCC map: %w", err)
			}
			mccTable = governor.MCCTableFromConfig(res.MCCTable)
		}
		if rc.riskTableFile != "" {
			res, err := config.LoadFile(config.DocTypeRiskTable, rc.riskTableFile)
			if err != nil {
				return fmt.Errorf("load risk table: %w", err)
			}
			riskTable = governor.RiskTableFromConfig(res.RiskTable)
		}
		gov := governor.New(riskTable)
		escalations := make(chan cardauth.EscalationWork, 64)
		cardSvc = cardauth.New(secret, poaCardBinding{poas}, mccTable, gov, l, escalations)
		go drainEscalations(ctx, escalations, bg)
	}

	var scamAnalyzer *scam.Analyzer
	if rc.scamPatternsFile != "" {
		res, err := config.LoadFile(config.DocTypeScamPatterns, rc.scamPatternsFile)
		if err != nil {
			return fmt.Errorf("load scam patterns: %w", err)
		}
		scamAnalyzer, err = scam.NewAnalyzer(res.ScamTable.Categories)
		if err != nil {
			return fmt.Errorf("compile scam pattern table: %w", err)
		}
	}

	handlers := &entrypoints.Handlers{
		POAs:       poas,
		Tokens:     tokens,
		Gatekeeper: gk,
		BreakGlass: bg,
		Ledger:     l,
		Scam:       scamAnalyzer,
		CardAuth:   cardSvc,
	}

	mux := newMux(handlers)
	httpServer := &http.Server{Addr: rc.httpAddr, Handler: mux}

	// The advocate CLI authenticates over the control socket with a
	// process-bound token (peer UID/PID checked on every request); the
	// token is written next to the socket so only the local user's
	// advocate-cli can read it.
	advocateAuth := server.NewAdvocateSessionAuthenticator()
	token, err := advocateAuth.GenerateToken(0, uint32(os.Getuid()), false)
	if err != nil {
		return fmt.Errorf("generate control-plane token: %w", err)
	}
	authedMux := server.WithAdvocateSessionAuth(advocateAuth, mux)

	control, err := server.NewUnixServer(ctx, server.UnixServerConfig{
		SocketPath: rc.controlSocket,
		Handler:    authedMux,
	})
	if err != nil {
		return fmt.Errorf("start control socket: %w", err)
	}
	if err := os.WriteFile(control.SocketPath()+".token", []byte(token.Token), 0600); err != nil {
		return fmt.Errorf("write control-plane token: %w", err)
	}

	go func() {
		logEvent(logger, "http listener starting", rc.httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server: %v", err)
		}
	}()
	go func() {
		logEvent(logger, "control socket listening", control.SocketURL())
		if err := control.Serve(); err != nil {
			log.Printf("control server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	control.Shutdown(shutdownCtx)
	return nil
}

func buildVault(rc runConfig) (*crypto.Vault, error) {
	if rc.ephemeralKeys {
		if rc.storeKind == "dynamodb" {
			return nil, fmt.Errorf("--ephemeral-keys cannot be combined with --store=dynamodb")
		}
		return crypto.New(crypto.Config{Ephemeral: true})
	}
	if rc.keysFile == "" {
		return nil, fmt.Errorf("--keys-file is required unless --ephemeral-keys is set")
	}
	if rc.confirmUnlock {
		if err := confirmProductionUnlock(); err != nil {
			return nil, err
		}
	}
	res, err := config.LoadFile(config.DocTypeKeys, rc.keysFile)
	if err != nil {
		return nil, err
	}
	return crypto.New(crypto.Config{
		EncryptionKeyHex: res.Keys.EncryptionKeyHex,
		MACKeyHex:        res.Keys.MACKeyHex,
	})
}

// confirmProductionUnlock requires an explicit operator confirmation
// before the daemon starts with real (non-ephemeral) key material,
// adapted from the teacher's fileKeyringPassphrasePrompt: an env var
// override for scripted deployments, else a non-echoed terminal prompt.
func confirmProductionUnlock() error {
	const phrase = "unlock"

	if v, ok := os.LookupEnv("AEGIS_UNLOCK_CONFIRM"); ok {
		if strings.TrimSpace(v) != phrase {
			return fmt.Errorf("AEGIS_UNLOCK_CONFIRM did not match the required confirmation phrase")
		}
		return nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("--confirm-unlock requires a terminal or AEGIS_UNLOCK_CONFIRM to be set")
	}

	fmt.Fprintf(os.Stderr, "Type %q to confirm starting aegis-gatewayd with production key material: ", phrase)
	input, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if strings.TrimSpace(string(input)) != phrase {
		return fmt.Errorf("confirmation phrase did not match")
	}
	return nil
}

func buildNotifier(ctx context.Context, rc runConfig) (breakglass.Notifier, error) {
	var notifiers []breakglass.Notifier
	if rc.snsTopicARN != "" {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, notifier.NewSNSNotifier(cfg, rc.snsTopicARN))
	}
	if rc.webhookURL != "" {
		wh, err := notifier.NewWebhookNotifier(notifier.WebhookConfig{URL: rc.webhookURL})
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, wh)
	}
	if len(notifiers) == 0 {
		return notifier.NoopNotifier{}, nil
	}
	return notifier.NewMultiNotifier(notifiers...), nil
}

// drainEscalations forwards card-authorization escalations into the
// break-glass machine, off the request path (spec §4.9's "must not
// perform synchronous notifier I/O on the authorization path").
func drainEscalations(ctx context.Context, work <-chan cardauth.EscalationWork, bg *breakglass.Machine) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-work:
			if !ok {
				return
			}
			details := fmt.Sprintf("card authorization risk score %d for %s", w.RiskScore, w.Envelope.Merchant.Descriptor)
			if _, _, err := bg.Create(ctx, w.POAID, w.AuditID, breakglass.TriggerHighRiskTx, details, "", breakglass.LivenessHint{}); err != nil {
				log.Printf("escalation enqueue failed for poa %s: %v", w.POAID, err)
			}
		}
	}
}

// poaCardBinding adapts poa.Registry to cardauth.CardBinding. Production
// deployments bind card_token -> poa_id out of band (at card-issuance
// time); this adapter assumes the card network passes the poa_id as the
// card_token directly, a placeholder documented in DESIGN.md pending a
// real card-issuance integration.
type poaCardBinding struct {
	poas *poa.Registry
}

func (b poaCardBinding) Lookup(ctx context.Context, cardToken string) (string, error) {
	p, err := b.poas.Get(ctx, cardToken)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

func decodeHexSecret(hexStr string) ([]byte, error) {
	return hex.DecodeString(hexStr)
}

func logEvent(logger logging.Logger, msg, detail string) {
	log.Printf("%s: %s", msg, detail)
}

func newMux(h *entrypoints.Handlers) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /poa", jsonHandler(func(ctx context.Context, r *http.Request) (any, error) {
		var req entrypoints.POACreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, trusterrors.InvalidArgument("malformed request body")
		}
		return h.POACreate(ctx, req)
	}))
	mux.HandleFunc("GET /poa/{id}", jsonHandler(func(ctx context.Context, r *http.Request) (any, error) {
		return h.POAGet(ctx, r.PathValue("id"))
	}))
	mux.HandleFunc("POST /poa/{id}/revoke", jsonHandler(func(ctx context.Context, r *http.Request) (any, error) {
		var req entrypoints.POARevokeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, trusterrors.InvalidArgument("malformed request body")
		}
		req.ID = r.PathValue("id")
		return h.POARevoke(ctx, req)
	}))
	mux.HandleFunc("GET /poa", jsonHandler(func(ctx context.Context, r *http.Request) (any, error) {
		activeOnly := r.URL.Query().Get("active_only") == "true"
		return h.POAList(ctx, entrypoints.POAListRequest{
			Principal:  r.URL.Query().Get("principal"),
			ActiveOnly: activeOnly,
		})
	}))
	mux.HandleFunc("POST /tokens", jsonHandler(func(ctx context.Context, r *http.Request) (any, error) {
		var req entrypoints.TokenStoreRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, trusterrors.InvalidArgument("malformed request body")
		}
		return h.TokenStore(ctx, req)
	}))
	mux.HandleFunc("GET /tokens/{id}/reveal", jsonHandler(func(ctx context.Context, r *http.Request) (any, error) {
		plaintext, err := h.TokenReveal(ctx, r.PathValue("id"))
		if err != nil {
			return nil, err
		}
		return map[string]string{"token": plaintext}, nil
	}))
	mux.HandleFunc("POST /gatekeeper/validate", jsonHandler(func(ctx context.Context, r *http.Request) (any, error) {
		var req gatekeeper.ValidateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, trusterrors.InvalidArgument("malformed request body")
		}
		return h.GatekeeperValidate(ctx, req)
	}))
	mux.HandleFunc("POST /scam/analyze", jsonHandler(func(ctx context.Context, r *http.Request) (any, error) {
		var req entrypoints.ScamAnalyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, trusterrors.InvalidArgument("malformed request body")
		}
		return h.ScamAnalyze(ctx, req)
	}))
	mux.HandleFunc("POST /card/authorize", func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(r)
		if err != nil {
			writeJSONError(w, trusterrors.InvalidArgument("unreadable request body"))
			return
		}
		var envelope cardauth.Envelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			writeJSONError(w, trusterrors.InvalidArgument("malformed card authorization envelope"))
			return
		}
		resp, err := h.CardAuthorize(r.Context(), entrypoints.CardAuthorizeRequest{
			Envelope:     envelope,
			Body:         body,
			SignatureHex: r.Header.Get("X-Signature"),
		})
		if err != nil {
			writeJSONError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})
	mux.HandleFunc("POST /breakglass/{id}/verify-otp", jsonHandler(func(ctx context.Context, r *http.Request) (any, error) {
		var req entrypoints.BreakGlassVerifyOTPRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, trusterrors.InvalidArgument("malformed request body")
		}
		req.EventID = r.PathValue("id")
		return h.BreakGlassVerifyOTP(ctx, req)
	}))
	mux.HandleFunc("POST /breakglass/{id}/verify-liveness", jsonHandler(func(ctx context.Context, r *http.Request) (any, error) {
		var req entrypoints.BreakGlassVerifyLivenessRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, trusterrors.InvalidArgument("malformed request body")
		}
		req.EventID = r.PathValue("id")
		return h.BreakGlassVerifyLiveness(ctx, req)
	}))
	mux.HandleFunc("POST /breakglass/{id}/deny", jsonHandler(func(ctx context.Context, r *http.Request) (any, error) {
		var req entrypoints.BreakGlassDenyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, trusterrors.InvalidArgument("malformed request body")
		}
		req.EventID = r.PathValue("id")
		return h.BreakGlassDeny(ctx, req)
	}))
	mux.HandleFunc("GET /breakglass/pending", jsonHandler(func(ctx context.Context, r *http.Request) (any, error) {
		return h.BreakGlassPending(ctx, r.URL.Query().Get("poa_id"), r.URL.Query().Get("advocate_id"))
	}))
	mux.HandleFunc("GET /audit", jsonHandler(func(ctx context.Context, r *http.Request) (any, error) {
		return h.AuditList(ctx, ledger.ListFilter{POAID: r.URL.Query().Get("poa_id")})
	}))
	mux.HandleFunc("GET /audit/verify", jsonHandler(func(ctx context.Context, r *http.Request) (any, error) {
		entryID, err := strconv.ParseInt(r.URL.Query().Get("entry_id"), 10, 64)
		if err != nil {
			return nil, trusterrors.InvalidArgument("entry_id must be an integer")
		}
		ok, err := h.AuditVerify(ctx, entrypoints.AuditVerifyRequest{
			POAID:   r.URL.Query().Get("poa_id"),
			EntryID: entryID,
		})
		if err != nil {
			return nil, err
		}
		return map[string]bool{"valid": ok}, nil
	}))
	mux.HandleFunc("GET /audit/export", func(w http.ResponseWriter, r *http.Request) {
		format := ledger.ExportFormat(r.URL.Query().Get("format"))
		if format == "" {
			format = ledger.FormatStructured
		}
		data, err := h.AuditExport(r.Context(), entrypoints.AuditExportRequest{
			POAID:  r.URL.Query().Get("poa_id"),
			Format: format,
		})
		if err != nil {
			writeJSONError(w, err)
			return
		}
		w.Header().Set("Content-Type", exportContentType(format))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	})

	return mux
}

func exportContentType(format ledger.ExportFormat) string {
	if format == ledger.FormatHuman {
		return "text/plain"
	}
	return "application/json"
}

func jsonHandler(fn func(ctx context.Context, r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := fn(r.Context(), r)
		if err != nil {
			writeJSONError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := r.Body.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			break
		}
	}
	return buf, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch trusterrors.KindOf(err) {
	case trusterrors.KindNotFound:
		status = http.StatusNotFound
	case trusterrors.KindInvalidArgument, trusterrors.KindUnauthenticated:
		status = http.StatusBadRequest
	case trusterrors.KindPolicyViolation, trusterrors.KindConflictState:
		status = http.StatusForbidden
	case trusterrors.KindTimeout:
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
