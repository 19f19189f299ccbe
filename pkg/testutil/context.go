package testutil

import (
	"net/http"

	id "agencyhub/pkg/domain"
	"agencyhub/pkg/requestcontext"
)

// AsEscort attaches an authenticated escort actor to the request.
// This simulates what the auth middleware would do for a valid escort token.
func AsEscort(req *http.Request, userID id.UserID, escortID id.EscortID) *http.Request {
	ctx := requestcontext.WithActor(req.Context(), requestcontext.ActorInfo{
		UserID:   userID,
		Role:     requestcontext.RoleEscort,
		EscortID: escortID,
	})
	return req.WithContext(ctx)
}

// AsAgency attaches an authenticated agency staff actor to the request.
func AsAgency(req *http.Request, userID id.UserID, agencyID id.AgencyID) *http.Request {
	ctx := requestcontext.WithActor(req.Context(), requestcontext.ActorInfo{
		UserID:   userID,
		Role:     requestcontext.RoleAgency,
		AgencyID: agencyID,
	})
	return req.WithContext(ctx)
}
