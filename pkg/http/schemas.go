package http

// HTTP response from the server
type GatewayResponse struct {
	Sequence string `json:"sequence,omitempty"`
	Response string `json:"response,omitempty"`
}

// HTTP request to the server
type GatewayRequest struct {
	command  string
	sequence uint32
}

type StateResponse struct {
	GatewayResponse
	State      string `json:"state"`
	AnbState   string `json:"anb_state"`
	Supervised bool   `json:"supervised"`
	UptimeMs   uint64 `json:"uptime_ms"`
}

type IdentityResponse struct {
	GatewayResponse
	FirmwareVersion  string `json:"firmware_version"`
	ModuleType       string `json:"module_type"`
	NetworkType      string `json:"network_type"`
	NetFormat        string `json:"net_format"`
	ParameterSupport bool   `json:"parameter_support"`
	ReadPdSize       uint16 `json:"read_pd_size"`
	WritePdSize      uint16 `json:"write_pd_size"`
}

type LastErrorResponse struct {
	GatewayResponse
	Code        string `json:"code"`
	Description string `json:"description"`
	Info        string `json:"info"`
}

type FatalLogResponse struct {
	GatewayResponse
	Data   string `json:"data,omitempty"`
	Length int    `json:"length"`
}
