package handler

import (
	"net/http"

	"github.com/go-faster/jx"
)

const (
	rootMessage  = "pos-register"
	checkMessage = "確認しました"
)

// Root handles GET / with a service greeting.
func (h *Handler) Root(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, rootMessage)
}

// Check handles GET /check. The register front end calls it to confirm the
// backend is reachable and shows the returned message.
func (h *Handler) Check(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, checkMessage)
}

func writeMessage(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("message")
		e.Str(msg)
		e.ObjEnd()
	})
}
