package rpc

import (
	"net"
	"net/http"
	"strings"

	"peerban/p2p"
)

type setBanParams struct {
	Subnet   string `json:"subnet"`
	Command  string `json:"command"`
	BanTime  int64  `json:"bantime"`
	Absolute bool   `json:"absolute"`
}

type listBannedParams struct {
	Address string `json:"address"`
}

type bannedEntryResult struct {
	Address     string `json:"address"`
	BanCreated  int64  `json:"ban_created"`
	BannedUntil int64  `json:"banned_until"`
}

func (s *Server) handleSetBan(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params setBanParams
	if !singleParamObject(w, req, &params) {
		return
	}
	command := strings.ToLower(strings.TrimSpace(params.Command))
	switch command {
	case "add":
		sub, err := p2p.ParseSubnet(params.Subnet)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidSubnet, "invalid_subnet", err.Error())
			return
		}
		s.bans.Ban(sub, params.BanTime, params.Absolute)
	case "remove":
		sub, err := p2p.ParseSubnet(params.Subnet)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidSubnet, "invalid_subnet", err.Error())
			return
		}
		// Removing an absent subnet still succeeds: the caller's intent,
		// "this subnet is not banned", already holds.
		s.bans.Unban(sub)
	case "removeall":
		if strings.ContainsRune(params.Subnet, '/') {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "removeall requires a bare address without a prefix")
			return
		}
		ip, err := p2p.ParseAddress(params.Subnet)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidAddress, "invalid_address", err.Error())
			return
		}
		s.bans.UnbanAllContaining(ip)
	default:
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "command must be add, remove or removeall")
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleListBanned(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "at most one parameter object expected")
		return
	}
	var filter net.IP
	if len(req.Params) == 1 {
		var params listBannedParams
		if !singleParamObject(w, req, &params) {
			return
		}
		if strings.TrimSpace(params.Address) != "" {
			ip, err := p2p.ParseAddress(params.Address)
			if err != nil {
				writeError(w, http.StatusBadRequest, req.ID, codeInvalidAddress, "invalid_address", err.Error())
				return
			}
			filter = ip
		}
	}
	entries := s.bans.Banned(filter)
	result := make([]bannedEntryResult, 0, len(entries))
	for _, entry := range entries {
		result = append(result, bannedEntryResult{
			Address:     entry.Subnet.String(),
			BanCreated:  entry.CreatedAt,
			BannedUntil: entry.BannedUntil,
		})
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleClearBanned(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "clearbanned takes no parameters")
		return
	}
	s.bans.Clear()
	writeResult(w, req.ID, map[string]bool{"ok": true})
}
