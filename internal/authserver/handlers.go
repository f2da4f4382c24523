package authserver

import (
	"net/http"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (a *API) Register() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Registration
		if ok := decodeRequest(a, &req, w, r); !ok {
			return
		}

		grant, err := a.service.Register(req)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		a.writeData(w, grant)
	}
}

func (a *API) Login() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if ok := decodeRequest(a, &req, w, r); !ok {
			return
		}

		grant, err := a.service.Login(req.Username, req.Password)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		a.writeData(w, grant)
	}
}

func (a *API) Refresh() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RefreshRequest
		if ok := decodeRequest(a, &req, w, r); !ok {
			return
		}

		grant, err := a.service.Refresh(req.RefreshToken)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		a.writeData(w, grant)
	}
}

func (a *API) Logout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LogoutRequest
		if ok := decodeRequest(a, &req, w, r); !ok {
			return
		}

		if err := a.service.Logout(req.RefreshToken); err != nil {
			a.writeError(w, r, err)
			return
		}
		a.writeData(w, nil)
	}
}

func (a *API) UserInfo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.writeData(w, userFromContext(r.Context()))
	}
}
