package server

import (
	"encoding/json"
	"io/ioutil"
	"net/http"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"kios-chat/internal/group"
	"kios-chat/internal/session"
	"kios-chat/internal/storage"
)

type parsers struct {
	eventPool        fastjson.ParserPool
	conversationPool fastjson.ParserPool
	userMessagesPool fastjson.ParserPool
	groupsPool       fastjson.ParserPool
}

type handler struct {
	logger    *zap.SugaredLogger
	store     *storage.Store
	registry  *session.Registry
	directory *group.Directory
	hub       *hub
	router    *router
	notifier  *notifier
	parsers   parsers
}

func (h *handler) writeJSON(w http.ResponseWriter, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(payload)
	if err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// users handles HTTP requests on "/users/get" endpoint
func (h *handler) users(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.Users(r.Context())
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if users == nil {
		users = []storage.User{}
	}

	h.writeJSON(w, users)
}

// conversationMessages handles HTTP requests on "/messages/conversation/get" endpoint.
// The request names either a direct pair ("user" + "counterpart") or a "group" id;
// messages come back ordered from earliest to latest.
func (h *handler) conversationMessages(w http.ResponseWriter, r *http.Request) {
	body, _ := ioutil.ReadAll(r.Body)

	parser := h.parsers.conversationPool.Get()
	defer h.parsers.conversationPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	if v.Exists("group") {
		groupValue := v.Get("group")
		if groupValue.Type() != fastjson.TypeString {
			http.Error(w, "Field \"group\" must be a string", http.StatusBadRequest)
			return
		}

		groupID := string(groupValue.GetStringBytes())
		if len(groupID) == 0 {
			http.Error(w, "Field \"group\" must have non-zero length", http.StatusBadRequest)
			return
		}

		messages, err := h.store.GroupMessages(r.Context(), groupID)
		if err != nil {
			h.logger.Error(err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		if messages == nil {
			messages = []storage.Message{}
		}

		h.writeJSON(w, messages)
		return
	}

	if !v.Exists("user") {
		http.Error(w, "Missing Field \"user\"", http.StatusBadRequest)
		return
	}

	user := string(v.GetStringBytes("user"))
	if len(user) == 0 {
		http.Error(w, "Field \"user\" must be a string and have non-zero length", http.StatusBadRequest)
		return
	}

	if !v.Exists("counterpart") {
		http.Error(w, "Missing Field \"counterpart\"", http.StatusBadRequest)
		return
	}

	counterpart := string(v.GetStringBytes("counterpart"))
	if len(counterpart) == 0 {
		http.Error(w, "Field \"counterpart\" must be a string and have non-zero length", http.StatusBadRequest)
		return
	}

	messages, err := h.store.ConversationMessages(r.Context(), user, counterpart)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []storage.Message{}
	}

	h.writeJSON(w, messages)
}

// userMessages handles HTTP requests on "/messages/user/get" endpoint.
// It returns every direct message involving the user, newest first; clients
// rebuild their chat list from this log.
func (h *handler) userMessages(w http.ResponseWriter, r *http.Request) {
	body, _ := ioutil.ReadAll(r.Body)

	parser := h.parsers.userMessagesPool.Get()
	defer h.parsers.userMessagesPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	if !v.Exists("user") {
		http.Error(w, "Missing Field \"user\"", http.StatusBadRequest)
		return
	}

	user := string(v.GetStringBytes("user"))
	if len(user) == 0 {
		http.Error(w, "Field \"user\" must be a string and have non-zero length", http.StatusBadRequest)
		return
	}

	messages, err := h.store.UserMessages(r.Context(), user)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []storage.Message{}
	}

	h.writeJSON(w, messages)
}

// groupsByMember handles HTTP requests on "/groups/get" endpoint
func (h *handler) groupsByMember(w http.ResponseWriter, r *http.Request) {
	body, _ := ioutil.ReadAll(r.Body)

	parser := h.parsers.groupsPool.Get()
	defer h.parsers.groupsPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	if !v.Exists("member") {
		http.Error(w, "Missing Field \"member\"", http.StatusBadRequest)
		return
	}

	member := string(v.GetStringBytes("member"))
	if len(member) == 0 {
		http.Error(w, "Field \"member\" must be a string and have non-zero length", http.StatusBadRequest)
		return
	}

	groups, err := h.store.GroupsByMember(r.Context(), member)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if groups == nil {
		groups = []storage.Group{}
	}

	h.writeJSON(w, groups)
}
