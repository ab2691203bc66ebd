// Package drive lists the files of the configured shared drive with the
// connected Google account's access token.
package drive

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/brizzai/fluo/internal/auth/middleware"
	"github.com/brizzai/fluo/internal/config"
	"github.com/brizzai/fluo/internal/logger"
	"github.com/brizzai/fluo/internal/tokens"
	"github.com/brizzai/fluo/internal/utils"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// FilesPath is the route served by Handler.
const FilesPath = "/api/drive/files"

const listFields = "nextPageToken, files(id,name,webViewLink)"

const (
	msgConfigError   = "Server configuration error"
	msgInvalidToken  = "Invalid access token"
	msgDriveAPIError = "Drive API error"
)

// File is one entry of the listing.
type File struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	WebViewLink string `json:"webViewLink,omitempty"`
}

// Lister lists the files of a shared drive on behalf of an access token.
type Lister interface {
	List(ctx context.Context, accessToken, driveID string) ([]File, error)
}

// Client calls the Drive v3 API. A service is built per call because every
// call carries the caller's own access token.
type Client struct {
	endpoint string
	timeout  time.Duration
}

func NewClient(cfg *config.Config) *Client {
	timeout := cfg.Drive.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{endpoint: cfg.Drive.Endpoint, timeout: timeout}
}

// List walks every page of the shared drive's file listing.
func (c *Client) List(ctx context.Context, accessToken, driveID string) ([]File, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	opts := []option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})),
	}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	svc, err := drivev3.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}

	files := []File{}
	err = svc.Files.List().
		Corpora("drive").
		DriveId(driveID).
		IncludeItemsFromAllDrives(true).
		SupportsAllDrives(true).
		Fields(googleapi.Field(listFields)).
		Pages(ctx, func(page *drivev3.FileList) error {
			for _, f := range page.Files {
				files = append(files, File{ID: f.Id, Name: f.Name, WebViewLink: f.WebViewLink})
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return files, nil
}

type Handler struct {
	config *config.Config
	lister Lister
	store  tokens.Store
}

func NewHandler(cfg *config.Config, lister Lister, store tokens.Store) *Handler {
	return &Handler{config: cfg, lister: lister, store: store}
}

// RegisterRoutes registers the drive routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(FilesPath, h.HandleFiles)
}

// HandleFiles handles /api/drive/files
func (h *Handler) HandleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.MethodNotAllowed(w, http.MethodGet)
		return
	}
	ctx := r.Context()
	log := logger.FromContext(ctx)

	driveID := h.config.Drive.SharedDriveID
	if driveID == "" {
		log.Error("Drive listing requested but drive.shared_drive_id is not set")
		utils.WriteError(w, http.StatusInternalServerError, msgConfigError, "drive.shared_drive_id is not set")
		return
	}

	userID := middleware.UserID(ctx)
	if userID == "" {
		utils.WriteError(w, http.StatusInternalServerError, msgConfigError,
			"tokens.default_user_id is not set and no Google account is bound to this session")
		return
	}

	rec, err := h.store.Read(ctx, userID)
	switch {
	case errors.Is(err, tokens.ErrNotFound):
		utils.WriteError(w, http.StatusUnauthorized, msgInvalidToken, "no Google account is connected")
		return
	case errors.Is(err, config.ErrMissing):
		log.Error("Token store is not configured", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, msgConfigError, nil)
		return
	case err != nil:
		log.Error("Failed to read token for drive listing", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "Failed to retrieve token", nil)
		return
	}

	files, err := h.lister.List(ctx, rec.AccessToken, driveID)
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
			log.Info("Drive rejected the stored access token", zap.String("user_id", userID))
			utils.WriteError(w, http.StatusUnauthorized, msgInvalidToken, gerr.Message)
			return
		}
		log.Error("Drive API error", zap.String("drive_id", driveID), zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, msgDriveAPIError, nil)
		return
	}

	log.Debug("Listed shared drive", zap.String("drive_id", driveID), zap.Int("files", len(files)))
	utils.WriteJSON(w, http.StatusOK, files)
}

// Module provides the Drive client and the route handler
var Module = fx.Module("drive",
	fx.Provide(
		fx.Annotate(
			NewClient,
			fx.As(new(Lister)),
		),
		NewHandler,
	),
)
