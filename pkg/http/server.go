package http

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	abcc "github.com/samsamfire/goabcc"
	"github.com/samsamfire/goabcc/pkg/config"
	"github.com/samsamfire/goabcc/pkg/driver"
)

const APIVersion = "1.0"
const MaxSequenceNb = 2<<31 - 1
const URIPattern = `^/abcc/(\d+\.\d+)/(\d{1,10})/(.*)$`

var regURI = regexp.MustCompile(URIPattern)

// Source is the driver as seen by the gateway, [driver.Driver] implements it
type Source interface {
	config.IdentitySource
	State() driver.MainState
	AnbState() uint8
	IsSupervised() bool
	UptimeMs() uint64
	LastError() (abcc.ErrorCode, uint32)
	FatalLog() []byte
}

// GatewayServer exposes the driver status over HTTP. It only reads,
// the driver keeps running in its own goroutine.
type GatewayServer struct {
	source   Source
	serveMux *http.ServeMux
	routes   map[string]GatewayRequestHandler
}

func NewGatewayServer(source Source) *GatewayServer {
	gw := &GatewayServer{source: source}
	gw.serveMux = http.NewServeMux()
	gw.serveMux.HandleFunc("/", gw.handleRequest)
	gw.routes = make(map[string]GatewayRequestHandler)

	gw.addRoute("state", gw.handleState)
	gw.addRoute("identity", gw.handleIdentity)
	gw.addRoute("error", gw.handleLastError)
	gw.addRoute("fatal-log", gw.handleFatalLog)
	gw.addRoute("reset", handlerNotSupported)
	return gw
}

// Handler can be mounted on another server
func (gw *GatewayServer) Handler() http.Handler {
	return gw.serveMux
}

// Process server, blocking
func (gw *GatewayServer) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, gw.serveMux)
}

func (gw *GatewayServer) addRoute(command string, handler GatewayRequestHandler) {
	gw.routes[command] = handler
}

// Parse a raw request in the form /abcc/<api version>/<sequence>/<command>
func NewGatewayRequestFromRaw(r *http.Request) (*GatewayRequest, error) {
	match := regURI.FindStringSubmatch(r.URL.Path)
	if len(match) != 4 {
		return nil, ErrGwSyntaxError
	}
	if match[1] != APIVersion {
		return nil, ErrGwRequestNotSupported
	}
	sequence, err := strconv.ParseUint(match[2], 10, 64)
	if err != nil || sequence > MaxSequenceNb {
		return nil, ErrGwSyntaxError
	}
	if r.Method != http.MethodGet {
		return nil, fmt.Errorf("%w : method %v", ErrGwRequestNotSupported, r.Method)
	}
	return &GatewayRequest{command: match[3], sequence: uint32(sequence)}, nil
}
