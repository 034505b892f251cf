package factories

import (
	"fmt"
	"unicode/utf8"

	"kioskagent/agent"
	"kioskagent/core"
	contexthandler "kioskagent/handlers/context"
	ttshandler "kioskagent/handlers/tts"
	"kioskagent/prompts"
	"kioskagent/tools/ticket"
	silerovad "kioskagent/vad/silero"
)

const (
	VariantHealthcare = "healthcare"
	VariantRealEstate = "realestate"
)

// Variant is one deployment of the kiosk agent.
type Variant struct {
	Name          string
	AssistantName string
	Instructions  string
	Greeting      string
	// UrgencyLevels constrains the ticket urgency. Nil leaves it free.
	UrgencyLevels []string
	// TicketDescriptions is how the ticket tool is described to the model.
	TicketDescriptions ticket.Descriptions
	// BreakWords replaces the TTS break words when set. Thai replies
	// separate sentences with spaces and rarely carry punctuation.
	BreakWords []string
	// LogCompletions adds request and response logging around the LLM.
	LogCompletions bool
	Defaults       Settings
}

func Healthcare() Variant {
	return Variant{
		Name:               VariantHealthcare,
		AssistantName:      prompts.HealthcareAssistantName,
		Instructions:       prompts.Healthcare(),
		Greeting:           prompts.HealthcareGreeting,
		UrgencyLevels:      ticket.Urgencies,
		TicketDescriptions: ticket.HospitalDescriptions,
		BreakWords:         append(ttshandler.DefaultConfig().BreakWords, " "),
		Defaults: Settings{
			STT:                STTSettings{Provider: ProviderOpenAI, Language: "th"},
			LLM:                LLMSettings{Provider: ProviderOpenAI, Model: "gpt-4o-mini"},
			TTS:                TTSSettings{Provider: ProviderOpenAI, Voice: "alloy"},
			Silero:             silerovad.DefaultConfig(),
			ParticipantTimeout: agent.DefaultParticipantTimeout.String(),
		},
	}
}

func RealEstate() Variant {
	return Variant{
		Name:           VariantRealEstate,
		AssistantName:  prompts.RealEstateAssistantName,
		Instructions:   prompts.RealEstate(),
		Greeting:       prompts.RealEstateGreeting,
		LogCompletions: true,
		TicketDescriptions: ticket.Descriptions{
			Tool:       "Generate a queue ticket once the visitor's request is clear",
			Department: "Service desk, e.g. 'Property Sales', 'Leasing' or 'Asset Management'",
			Urgency:    "Priority, e.g. 'Normal' or 'High'",
			Summary:    "Brief summary of the visitor's request",
		},
		Defaults: Settings{
			STT: STTSettings{
				Provider:      ProviderDeepgram,
				Model:         "nova-2",
				Language:      "en",
				EndpointingMs: 300,
			},
			LLM:                LLMSettings{Provider: ProviderOpenAI, Model: "gpt-4o-mini"},
			TTS:                TTSSettings{Provider: ProviderElevenLabs},
			VAD:                VADSettings{MinSilenceMs: 300},
			Silero:             silerovad.DefaultConfig(),
			ParticipantTimeout: agent.DefaultParticipantTimeout.String(),
		},
	}
}

func VariantByName(name string) (Variant, error) {
	switch name {
	case VariantHealthcare, "":
		return Healthcare(), nil
	case VariantRealEstate:
		return RealEstate(), nil
	}
	return Variant{}, fmt.Errorf("unknown variant %q (want %s or %s)", name, VariantHealthcare, VariantRealEstate)
}

// SessionOptions turns the variant and its effective settings into what
// the bootstrapper needs.
func (v Variant) SessionOptions(settings Settings, keys APIKeys, logger *core.Logger) (agent.SessionOptions, error) {
	if err := settings.Validate(keys); err != nil {
		return agent.SessionOptions{}, err
	}
	if logger == nil {
		logger = core.GetLogger()
	}

	options := agent.DefaultSessionOptions()
	options.Instructions = v.Instructions
	options.Greeting = v.Greeting
	options.GreetingInterruptible = true
	options.VAD = settings.VAD.Config()
	if len(v.BreakWords) > 0 {
		options.TTS.BreakWords = v.BreakWords
	}
	options.Stages = StageFactory(settings, keys)

	var err error
	if options.ParticipantTimeout, err = parseDuration("participant_timeout", settings.ParticipantTimeout, agent.DefaultParticipantTimeout); err != nil {
		return agent.SessionOptions{}, err
	}
	if options.MaxDuration, err = parseDuration("max_session_duration", settings.MaxSessionDuration, 0); err != nil {
		return agent.SessionOptions{}, err
	}

	ticketOptions := ticket.Options{UrgencyLevels: v.UrgencyLevels, Descriptions: v.TicketDescriptions}
	options.Tools = []agent.ToolFactory{func(pub ticket.Publisher, logger *core.Logger) contexthandler.Command {
		opts := ticketOptions
		opts.Logger = logger
		return ticket.New(pub, opts)
	}}

	if v.LogCompletions {
		options.LLM.OnRequest = func(llmContext core.LLMContext) {
			logger.Info("sending request to LLM", "messages", len(llmContext.Messages))
		}
		options.LLM.OnResponse = func(response core.LLMResponse) {
			logger.Info("received LLM response", "preview", preview(response.Text, 100), "tool_calls", len(response.ToolCalls))
		}
	}
	return options, nil
}

// VADLoader loads the Silero network named by the settings.
func VADLoader(cfg silerovad.Config) agent.VADLoader {
	return func() (agent.VAD, error) {
		model, err := silerovad.LoadModel(cfg)
		if err != nil {
			return nil, err
		}
		return model, nil
	}
}

// preview returns at most n runes of text.
func preview(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n])
}
