package http

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	abcc "github.com/samsamfire/goabcc"
	"github.com/samsamfire/goabcc/pkg/config"
	"github.com/samsamfire/goabcc/pkg/driver"
	log "github.com/sirupsen/logrus"
)

// Wrapper around [http.ResponseWriter] but keeps track of any writes already done
type doneWriter struct {
	http.ResponseWriter
	done bool
}

type GatewayRequestHandler func(w *doneWriter, req *GatewayRequest) error

func (w *doneWriter) WriteHeader(status int) {
	w.done = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *doneWriter) Write(b []byte) (int, error) {
	w.done = true
	return w.ResponseWriter.Write(b)
}

func (w *doneWriter) writeJSON(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return ErrGwRequestNotProcessed
	}
	_, err = w.Write(raw)
	return err
}

func NewResponseError(sequence int, err error) []byte {
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		gwErr = ErrGwRequestNotProcessed
	}
	raw, _ := json.Marshal(GatewayResponse{
		Sequence: strconv.Itoa(sequence),
		Response: "ERROR:" + strconv.Itoa(gwErr.Code),
	})
	return raw
}

func NewResponseSuccess(sequence int) []byte {
	raw, _ := json.Marshal(GatewayResponse{Sequence: strconv.Itoa(sequence), Response: "OK"})
	return raw
}

func success(sequence uint32) GatewayResponse {
	return GatewayResponse{Sequence: strconv.Itoa(int(sequence)), Response: "OK"}
}

// Default handler of any request, forwards it to the route of the command
func (gw *GatewayServer) handleRequest(w http.ResponseWriter, raw *http.Request) {
	log.Debugf("[HTTP][SERVER] new request : %v", raw.URL)
	w.Header().Set("Content-Type", "application/json")
	req, err := NewGatewayRequestFromRaw(raw)
	if err != nil {
		w.Write(NewResponseError(0, err))
		return
	}
	route, ok := gw.routes[req.command]
	if !ok {
		log.Debugf("[HTTP][SERVER] no handler found for : '%v'", req.command)
		w.Write(NewResponseError(int(req.sequence), ErrGwRequestNotSupported))
		return
	}
	dw := &doneWriter{ResponseWriter: w}
	err = route(dw, req)
	if err != nil {
		w.Write(NewResponseError(int(req.sequence), err))
		return
	}
	if !dw.done {
		dw.Write(NewResponseSuccess(int(req.sequence)))
	}
}

// Routes that exist on the module but are refused by this gateway
func handlerNotSupported(w *doneWriter, req *GatewayRequest) error {
	return ErrGwRequestNotSupported
}

func (gw *GatewayServer) handleState(w *doneWriter, req *GatewayRequest) error {
	return w.writeJSON(StateResponse{
		GatewayResponse: success(req.sequence),
		State:           gw.source.State().String(),
		AnbState:        abcc.AnbStateMap[gw.source.AnbState()],
		Supervised:      gw.source.IsSupervised(),
		UptimeMs:        gw.source.UptimeMs(),
	})
}

// The identity is only known once the setup has completed
func (gw *GatewayServer) handleIdentity(w *doneWriter, req *GatewayRequest) error {
	if gw.source.State() != driver.StateRunning {
		return ErrGwNotReady
	}
	identity := config.ReadIdentity(gw.source)
	v := identity.FirmwareVersion
	return w.writeJSON(IdentityResponse{
		GatewayResponse:  success(req.sequence),
		FirmwareVersion:  fmt.Sprintf("%d.%02d.%02d", v.Major, v.Minor, v.Build),
		ModuleType:       fmt.Sprintf("0x%04x", identity.ModuleType),
		NetworkType:      fmt.Sprintf("0x%04x", identity.NetworkType),
		NetFormat:        identity.NetFormat.String(),
		ParameterSupport: identity.ParameterSupport,
		ReadPdSize:       identity.ReadPdSize,
		WritePdSize:      identity.WritePdSize,
	})
}

func (gw *GatewayServer) handleLastError(w *doneWriter, req *GatewayRequest) error {
	code, info := gw.source.LastError()
	return w.writeJSON(LastErrorResponse{
		GatewayResponse: success(req.sequence),
		Code:            fmt.Sprintf("0x%x", uint16(code)),
		Description:     code.Description(),
		Info:            fmt.Sprintf("0x%x", info),
	})
}

func (gw *GatewayServer) handleFatalLog(w *doneWriter, req *GatewayRequest) error {
	fatalLog := gw.source.FatalLog()
	resp := FatalLogResponse{GatewayResponse: success(req.sequence), Length: len(fatalLog)}
	if len(fatalLog) > 0 {
		resp.Data = "0x" + hex.EncodeToString(fatalLog)
	}
	return w.writeJSON(resp)
}
