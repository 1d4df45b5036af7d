package llm

// EndpointPreset is a known chat-completions endpoint.
type EndpointPreset struct {
	Label string `json:"label" msgpack:"label"`
	URL   string `json:"url" msgpack:"url"`
}

// ModelPreset is a known model identifier.
type ModelPreset struct {
	Label string `json:"label" msgpack:"label"`
	ID    string `json:"id" msgpack:"id"`
}

// DefaultEndpoint is used when no endpoint is configured.
const DefaultEndpoint = "https://api.openai.com/v1/chat/completions"

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4"

// EndpointPresets lists the endpoints offered to users.
// The Azure entry is a template; resource and deployment names must be replaced.
var EndpointPresets = []EndpointPreset{
	{Label: "OpenAI", URL: DefaultEndpoint},
	{Label: "Anthropic", URL: "https://api.anthropic.com/v1/messages"},
	{Label: "Azure OpenAI", URL: "https://your-resource.openai.azure.com/openai/deployments/your-deployment-name/chat/completions?api-version=2023-05-15"},
	{Label: "Deepseek", URL: "https://api.deepseek.com/v1/chat/completions"},
	{Label: "SiliconFlow", URL: "https://api.siliconflow.cn/v1/chat/completions"},
}

// ModelPresets lists the models offered to users.
var ModelPresets = []ModelPreset{
	{Label: "GPT-4", ID: "gpt-4"},
	{Label: "GPT-4 Turbo", ID: "gpt-4-1106-preview"},
	{Label: "GPT-3.5 Turbo", ID: "gpt-3.5-turbo"},
	{Label: "Claude 2.1", ID: "claude-2.1"},
	{Label: "Claude Instant", ID: "claude-instant-1.2"},
	{Label: "Deepseek-Chat", ID: "deepseek-chat"},
	{Label: "Deepseek-Reasoner", ID: "deepseek-reasoner"},
	{Label: "SiliconFlow-deepseek-V2.5", ID: "deepseek-ai/DeepSeek-V2.5"},
	{Label: "SiliconFlow-deepseek-V3", ID: "deepseek-ai/DeepSeek-V3"},
	{Label: "SiliconFlow-deepseek-R1", ID: "deepseek-ai/DeepSeek-R1"},
}

// ResolveEndpoint maps a preset label (case-sensitive) to its URL and
// returns any other value unchanged.
func ResolveEndpoint(labelOrURL string) string {
	for _, p := range EndpointPresets {
		if p.Label == labelOrURL {
			return p.URL
		}
	}
	return labelOrURL
}
