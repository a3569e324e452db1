package routes

// Version is the API version segment used in routing.
const Version = "v1"

// Base returns the versioned API base path.
func Base() string {
	return "/api/" + Version
}

// Upload returns the document upload path.
func Upload() string {
	return Base() + "/upload"
}

// Chat returns the chat query path.
func Chat() string {
	return Base() + "/chat"
}

// Health returns the versioned health path.
func Health() string {
	return Base() + "/health"
}
