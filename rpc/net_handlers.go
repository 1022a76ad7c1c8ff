package rpc

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"peerban/p2p"
)

type disconnectNodeParams struct {
	Address string  `json:"address"`
	NodeID  *uint64 `json:"nodeid"`
}

type peerInfoResult struct {
	ID        uint64     `json:"id"`
	Addr      string     `json:"addr"`
	Direction string     `json:"direction"`
	FirstSeen *time.Time `json:"firstSeen,omitempty"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
	Fails     int        `json:"fails,omitempty"`
}

func (s *Server) handleDisconnectNode(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params disconnectNodeParams
	if !singleParamObject(w, req, &params) {
		return
	}
	hasAddr := strings.TrimSpace(params.Address) != ""
	hasID := params.NodeID != nil
	if hasAddr == hasID {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one of address or nodeid must be provided")
		return
	}
	var err error
	if hasAddr {
		err = s.registry.DisconnectAddr(strings.TrimSpace(params.Address))
	} else {
		err = s.registry.DisconnectID(*params.NodeID)
	}
	if err != nil {
		if errors.Is(err, p2p.ErrConnNotFound) {
			writeError(w, http.StatusNotFound, req.ID, codeNotFound, "not_found", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "server_error", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleGetPeerInfo(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "getpeerinfo takes no parameters")
		return
	}
	peers := s.registry.Peers()
	result := make([]peerInfoResult, 0, len(peers))
	for _, peer := range peers {
		info := peerInfoResult{
			ID:        peer.ID,
			Addr:      peer.Addr,
			Direction: string(peer.Direction),
		}
		if s.peerstore != nil {
			if rec, ok := s.peerstore.Get(peer.Addr); ok {
				first, last := rec.FirstSeen, rec.LastSeen
				info.FirstSeen = &first
				info.LastSeen = &last
				info.Fails = rec.Fails
			}
		}
		result = append(result, info)
	}
	writeResult(w, req.ID, result)
}
