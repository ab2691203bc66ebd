package constants

const (
	// TokenType for Bearer authentication
	TokenType = "Bearer"

	// AuthHeaderName is the name of the Authorization header
	AuthHeaderName = "Authorization"

	// AuthHeaderPrefix is the prefix for the Authorization header value
	AuthHeaderPrefix = "Bearer "
)

// Google endpoints
const (
	GoogleIssuer      = "https://accounts.google.com"
	GoogleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	GoogleTokenURL    = "https://oauth2.googleapis.com/token"
	GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
	GoogleJWKSURL     = "https://www.googleapis.com/oauth2/v3/certs"
)

// DefaultScopes are requested when google.scopes is empty
var DefaultScopes = []string{"openid", "email", "profile", DriveFileScope}

// DriveFileScope lets the stored token list the shared drive
const DriveFileScope = "https://www.googleapis.com/auth/drive.file"

// Dashboard routes
const (
	LoginPath      = "/api/auth/google/login"
	CallbackPath   = "/api/auth/google/callback"
	RefreshPath    = "/api/auth/google/refresh"
	SessionPath    = "/api/auth/google/session"
	DisconnectPath = "/api/auth/google/disconnect"
	AuthConfigPath = "/api/auth/config"
	TokensPath     = "/api/tokens"

	// AppsPath is where the callback sends the browser back to
	AppsPath = "/admin/dash/apps"
)

// Values of the auth_status query parameter on AppsPath
const (
	AuthStatusSuccess = "success"
	AuthStatusError   = "error"
)
