package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
	"github.com/openai/openai-go/shared/constant"
)

// Interpreter turns a natural-language money movement into a PaymentIntent.
type Interpreter interface {
	Interpret(ctx context.Context, text string, known Context) (*PaymentIntent, error)
}

// Context is what the model may refer to: the ids of the buckets and the names and
// numbers it can match against.
type Context struct {
	Buckets      []string
	Clients      []string
	Distributors []string
	OpenRecords  []string // "V-000042 Juan Pérez outstanding 500.00"
}

type Agent struct {
	client *openai.Client
	model  string
}

// NewAgent creates an OpenAI-backed interpreter. An empty model selects gpt-4o.
func NewAgent(apiKey, model string) *Agent {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	if model == "" {
		model = string(shared.ChatModelGPT4o)
	}
	return &Agent{client: &client, model: model}
}

func (a *Agent) Interpret(ctx context.Context, text string, known Context) (*PaymentIntent, error) {
	schemaMap, err := intentSchema()
	if err != nil {
		return nil, err
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(a.model),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: param.NewOpt(buildPrompt(text, known)),
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Type:        constant.JSONSchema("json_schema"),
					Name:        "payment_intent",
					Strict:      param.NewOpt(true),
					Schema:      schemaMap,
					Description: param.NewOpt("A single money movement for the distribution ledger"),
				},
			},
		},
	}

	resp, err := a.client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai responses error: %w", err)
	}

	content := resp.OutputText()
	if content == "" {
		return nil, fmt.Errorf("empty response content")
	}
	return ParseIntent(content)
}

// ParseIntent decodes, normalizes and validates a model response.
func ParseIntent(content string) (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := json.Unmarshal([]byte(content), &intent); err != nil {
		return nil, fmt.Errorf("failed to parse completion: %w", err)
	}
	intent.Normalize()
	if err := intent.Validate(); err != nil {
		return nil, fmt.Errorf("intent validation failed: %w", err)
	}
	return &intent, nil
}

func buildPrompt(text string, known Context) string {
	list := func(items []string) string {
		if len(items) == 0 {
			return "(none)"
		}
		return "- " + strings.Join(items, "\n- ")
	}
	return fmt.Sprintf(`You record money movements for a wholesale distribution business.
Read the user's message and return exactly one movement.
Kinds:
- sale_payment: a client pays down one specific sale (needs record_number).
- client_payment: a client pays down their debt without naming a sale (needs party_name).
- distributor_payment: we pay a distributor out of a bank (needs source_bucket and party_name or record_number).
- expense: money leaves a bank (needs source_bucket).
- income: money arrives in a bank outside any sale (needs target_bucket).
- transfer: money moves between two buckets (needs source_bucket and target_bucket).
- clarify: anything ambiguous; ask one short question in clarification.
Rules:
1. Use ONLY bucket ids, names and record numbers from the lists below.
2. Amounts are exact strings with at most two decimals (e.g. "500.00").
3. Leave fields that do not apply as empty strings.
4. Provide a confidence score (0.0-1.0) and explain your reasoning.

Buckets:
%s

Clients:
%s

Distributors:
%s

Open records:
%s

Message: %s`, list(known.Buckets), list(known.Clients), list(known.Distributors), list(known.OpenRecords), text)
}

func intentSchema() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schemaJSON, err := json.Marshal(reflector.Reflect(PaymentIntent{}))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var schemaMap map[string]any
	if err := json.Unmarshal(schemaJSON, &schemaMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema to map: %w", err)
	}
	return schemaMap, nil
}
