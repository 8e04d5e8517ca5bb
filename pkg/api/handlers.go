package api

import (
	"net/http"
	"time"

	"github.com/opencirc/circ/pkg/circulation"
	"github.com/opencirc/circ/pkg/models"
)

// healthResponse is returned by the health probes.
type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

// handleLiveness reports that the process is up.
func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReadiness reports whether the server can reach its database.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if err := s.st.Healthcheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:    "unavailable",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Error:     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ready",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// libraryView is the read-only JSON shape of a library.
type libraryView struct {
	ShortName  string `json:"short_name"`
	Name       string `json:"name"`
	LoanLimit  int    `json:"loan_limit"`
	HoldLimit  int    `json:"hold_limit"`
	AllowHolds bool   `json:"allow_holds"`
}

func (s *Server) handleListLibraries(w http.ResponseWriter, r *http.Request) {
	libraries, err := s.st.ListLibraries(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list libraries")
		return
	}

	views := make([]libraryView, 0, len(libraries))
	for _, library := range libraries {
		views = append(views, libraryView{
			ShortName:  library.ShortName,
			Name:       library.Name,
			LoanLimit:  library.LoanLimit,
			HoldLimit:  library.HoldLimit,
			AllowHolds: library.AllowHolds,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// collectionView is the read-only JSON shape of a collection, including
// whether its vendor adapter came up.
type collectionView struct {
	Name       string `json:"name"`
	Protocol   string `json:"protocol"`
	DataSource string `json:"data_source"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	collections, err := s.st.ListCollections(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list collections")
		return
	}

	views := make([]collectionView, 0, len(collections))
	for _, collection := range collections {
		views = append(views, s.collectionStatus(collection))
	}
	writeJSON(w, http.StatusOK, views)
}

// collectionStatus derives the adapter status for a collection from the
// running engines.
func (s *Server) collectionStatus(collection *models.Collection) collectionView {
	view := collectionView{
		Name:       collection.Name,
		Protocol:   collection.Protocol,
		DataSource: collection.DataSource,
		Status:     "active",
	}

	for _, engine := range s.engines {
		if err := engine.InitializationError(collection.ID); err != nil {
			view.Status = "error"
			view.Error = err.Error()
			return view
		}
	}
	return view
}

// protocolsResponse lists the vendor protocols this build supports.
type protocolsResponse struct {
	Protocols []string `json:"protocols"`
}

func (s *Server) handleListProtocols(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, protocolsResponse{
		Protocols: circulation.RegisteredProtocols(),
	})
}
