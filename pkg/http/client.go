package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

type GatewayClient struct {
	client            *http.Client
	baseURL           string
	apiVersion        string
	currentSequenceNb int
}

func NewGatewayClient(baseURL string, apiVersion string) *GatewayClient {
	return &GatewayClient{
		client:     &http.Client{},
		baseURL:    baseURL,
		apiVersion: apiVersion,
	}
}

// Extract error if any inside of response
func (resp *GatewayResponse) GetError() error {
	if !strings.HasPrefix(resp.Response, "ERROR:") {
		return nil
	}
	code, err := strconv.Atoi(strings.TrimPrefix(resp.Response, "ERROR:"))
	if err != nil {
		return fmt.Errorf("error decoding error field ('ERROR:' : %v)", err)
	}
	return NewGatewayError(code)
}

// Request a command and decode the JSON response into v.
// Errors are http errors, decoding errors, sequence mismatches or
// gateway errors.
func (client *GatewayClient) get(command string, v any) error {
	client.currentSequenceNb++
	uri := fmt.Sprintf("%s/abcc/%s/%d/%s", client.baseURL, client.apiVersion, client.currentSequenceNb, command)
	httpResp, err := client.client.Get(uri)
	if err != nil {
		log.Errorf("[HTTP][CLIENT] http error : %v", err)
		return err
	}
	defer httpResp.Body.Close()
	var raw json.RawMessage
	err = json.NewDecoder(httpResp.Body).Decode(&raw)
	if err != nil {
		log.Errorf("[HTTP][CLIENT] error decoding json response : %v", err)
		return err
	}
	var base GatewayResponse
	err = json.Unmarshal(raw, &base)
	if err != nil {
		return err
	}
	if err := base.GetError(); err != nil {
		return err
	}
	sequence, err := strconv.Atoi(base.Sequence)
	if client.currentSequenceNb != sequence || err != nil {
		log.Errorf("[HTTP][CLIENT][SEQ:%v] sequence number does not match expected value (%v)", base.Sequence, client.currentSequenceNb)
		return fmt.Errorf("error in sequence number")
	}
	if v == nil {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func (client *GatewayClient) State() (StateResponse, error) {
	var resp StateResponse
	err := client.get("state", &resp)
	return resp, err
}

func (client *GatewayClient) Identity() (IdentityResponse, error) {
	var resp IdentityResponse
	err := client.get("identity", &resp)
	return resp, err
}

func (client *GatewayClient) LastError() (LastErrorResponse, error) {
	var resp LastErrorResponse
	err := client.get("error", &resp)
	return resp, err
}

func (client *GatewayClient) FatalLog() (FatalLogResponse, error) {
	var resp FatalLogResponse
	err := client.get("fatal-log", &resp)
	return resp, err
}
