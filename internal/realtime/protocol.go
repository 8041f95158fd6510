package realtime

// Client messages.

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Modalities              []string      `json:"modalities"`
	Instructions            string        `json:"instructions"`
	Voice                   string        `json:"voice"`
	InputAudioFormat        string        `json:"input_audio_format"`
	OutputAudioFormat       string        `json:"output_audio_format"`
	InputAudioTranscription transcription `json:"input_audio_transcription"`
	TurnDetection           turnDetection `json:"turn_detection"`
	Tools                   []tool        `json:"tools"`
	ToolChoice              string        `json:"tool_choice"`
	Temperature             float64       `json:"temperature"`
	MaxResponseOutputTokens int           `json:"max_response_output_tokens"`
}

// tool is a function definition; none are offered.
type tool struct{}

type transcription struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type itemCreate struct {
	Type string      `json:"type"`
	Item messageItem `json:"item"`
}

type messageItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responseCreate struct {
	Type     string         `json:"type"`
	Response responseConfig `json:"response"`
}

type responseConfig struct {
	Modalities   []string `json:"modalities"`
	Instructions string   `json:"instructions"`
}

type typeOnly struct {
	Type string `json:"type"`
}

// Server messages, decoded loosely into one shape.

type serverEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Delta      string `json:"delta"`
	ResponseID string `json:"response_id"`
	Session    *struct {
		ID string `json:"id"`
	} `json:"session"`
	Response *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"response"`
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
