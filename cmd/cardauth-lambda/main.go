// Command cardauth-lambda wraps cardauth.Service.Authorize behind the
// card network's HTTPS webhook contract, deployed as an AWS Lambda
// function (spec §4.9 / C9's "deployable as cmd/cardauth-lambda").
// Adapted from the teacher's cmd/lambda-tvm: a lazily-initialized
// package-level handler (cold-start optimization), events.APIGatewayV2HTTPRequest
// in, events.APIGatewayV2HTTPResponse out.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/aegistrust/proxy/breakglass"
	"github.com/aegistrust/proxy/cardauth"
	"github.com/aegistrust/proxy/config"
	"github.com/aegistrust/proxy/crypto"
	"github.com/aegistrust/proxy/governor"
	"github.com/aegistrust/proxy/ledger"
	"github.com/aegistrust/proxy/notifier"
	"github.com/aegistrust/proxy/poa"
	"github.com/aegistrust/proxy/ratelimit"
	"github.com/aegistrust/proxy/secrets"
)

var svc *cardauth.Service

func main() {
	lambda.Start(handleRequest)
}

func handleRequest(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if svc == nil {
		s, err := initService(ctx)
		if err != nil {
			log.Printf("ERROR: cardauth-lambda init failed: %v", err)
			return errorResponse(500, "card authorization service unavailable"), nil
		}
		svc = s
	}

	body := []byte(req.Body)
	var envelope cardauth.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return errorResponse(400, "malformed card authorization envelope"), nil
	}

	resp, err := svc.Authorize(ctx, envelope, body, req.Headers["x-signature"])
	if err != nil {
		log.Printf("ERROR: card authorization: %v", err)
		return errorResponse(500, "card authorization failed"), nil
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return errorResponse(500, "failed to encode response"), nil
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(data),
	}, nil
}

// initService builds the Service from environment configuration: the
// table prefix, webhook HMAC secret, and optional pattern-table overrides,
// mirroring the teacher's LoadConfigFromEnv shape but pointed at this
// module's DynamoDB stores and governor tables instead of IAM policy
// documents.
func initService(ctx context.Context) (*cardauth.Service, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}

	secretHex, err := loadCardProviderSecret(ctx, awsCfg)
	if err != nil {
		return nil, err
	}
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, err
	}

	tablePrefix := os.Getenv("AEGIS_TABLE_PREFIX")
	if tablePrefix == "" {
		tablePrefix = "aegis"
	}

	keysFile := os.Getenv("AEGIS_KEYS_FILE")
	if keysFile == "" {
		return nil, errMissingEnv("AEGIS_KEYS_FILE")
	}
	keysRes, err := config.LoadFile(config.DocTypeKeys, keysFile)
	if err != nil {
		return nil, err
	}
	vault, err := crypto.New(crypto.Config{
		EncryptionKeyHex: keysRes.Keys.EncryptionKeyHex,
		MACKeyHex:        keysRes.Keys.MACKeyHex,
	})
	if err != nil {
		return nil, err
	}

	ledgerStore := ledger.NewDynamoDBStore(awsCfg, tablePrefix+"-ledger")
	poaStore := poa.NewDynamoDBStore(awsCfg, tablePrefix+"-poa")

	l := ledger.New(ledgerStore, vault)
	poas := poa.New(poaStore, l, nil)

	mccTable := governor.DefaultMCCTable()
	if mccFile := os.Getenv("AEGIS_MCC_MAP_FILE"); mccFile != "" {
		res, err := config.LoadFile(config.DocTypeMCCMap, mccFile)
		if err != nil {
			return nil, err
		}
		mccTable = governor.MCCTableFromConfig(res.MCCTable)
	}
	riskTable := governor.DefaultRiskTable()
	if riskFile := os.Getenv("AEGIS_RISK_TABLE_FILE"); riskFile != "" {
		res, err := config.LoadFile(config.DocTypeRiskTable, riskFile)
		if err != nil {
			return nil, err
		}
		riskTable = governor.RiskTableFromConfig(res.RiskTable)
	}
	gov := governor.New(riskTable)

	bgStore := breakglass.NewDynamoDBStore(awsCfg, tablePrefix+"-breakglass")
	bgLimiter, err := ratelimit.NewTokenBucketLimiter(ratelimit.Config{
		RequestsPerWindow: 5,
		Window:            10 * time.Minute,
	})
	if err != nil {
		return nil, err
	}
	bg := breakglass.New(bgStore, vault, buildEscalationNotifier(awsCfg), breakglass.NewStubLivenessEvaluator(), l, breakglass.NewRateLimitGuard(bgLimiter))

	escalations := make(chan cardauth.EscalationWork, 64)
	go drainEscalations(ctx, escalations, bg)

	return cardauth.New(secret, lambdaCardBinding{poas}, mccTable, gov, l, escalations), nil
}

// lambdaCardBinding mirrors aegis-gatewayd's poaCardBinding placeholder:
// it assumes the card network passes the poa_id as the card_token
// directly, pending a real card-issuance integration (documented in
// DESIGN.md).
type lambdaCardBinding struct {
	poas *poa.Registry
}

func (b lambdaCardBinding) Lookup(ctx context.Context, cardToken string) (string, error) {
	p, err := b.poas.Get(ctx, cardToken)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

// drainEscalations forwards high-risk (pending-advocate) authorizations into a
// break-glass event, off the request path (spec §4.9's "must not perform
// synchronous notifier I/O on the authorization path"), mirroring
// cmd/aegis-gatewayd's own drainEscalations loop. A warm Lambda
// container keeps this goroutine running across invocations for as long
// as the container survives.
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

// loadCardProviderSecret returns the hex-encoded card-network webhook
// HMAC secret, preferring a Secrets Manager-held value
// (AEGIS_CARD_PROVIDER_SECRET_ARN) over a plain environment variable so
// production deployments never need the key material in the function's
// own configuration.
func loadCardProviderSecret(ctx context.Context, awsCfg aws.Config) (string, error) {
	if arn := os.Getenv("AEGIS_CARD_PROVIDER_SECRET_ARN"); arn != "" {
		loader := secrets.NewCachedLoader(awsCfg, secrets.DefaultCacheTTL)
		return loader.GetSecret(ctx, arn)
	}
	if v := os.Getenv("AEGIS_CARD_PROVIDER_SECRET"); v != "" {
		return v, nil
	}
	return "", errMissingEnv("AEGIS_CARD_PROVIDER_SECRET or AEGIS_CARD_PROVIDER_SECRET_ARN")
}

func buildEscalationNotifier(awsCfg aws.Config) breakglass.Notifier {
	var notifiers []breakglass.Notifier
	if topicARN := os.Getenv("AEGIS_SNS_TOPIC_ARN"); topicARN != "" {
		notifiers = append(notifiers, notifier.NewSNSNotifier(awsCfg, topicARN))
	}
	if webhookURL := os.Getenv("AEGIS_WEBHOOK_URL"); webhookURL != "" {
		wh, err := notifier.NewWebhookNotifier(notifier.WebhookConfig{URL: webhookURL})
		if err == nil {
			notifiers = append(notifiers, wh)
		}
	}
	if len(notifiers) == 0 {
		return notifier.NoopNotifier{}
	}
	return notifier.NewMultiNotifier(notifiers...)
}

func errMissingEnv(name string) error {
	return &missingEnvError{name: name}
}

type missingEnvError struct{ name string }

func (e *missingEnvError) Error() string {
	return "missing required environment variable " + e.name
}

func errorResponse(status int, message string) events.APIGatewayV2HTTPResponse {
	data, _ := json.Marshal(map[string]string{"error": message})
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(data),
	}
}
