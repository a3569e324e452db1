package knowledgerouter

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/compozy/notebook/engine/core"
	"github.com/compozy/notebook/engine/infra/server/appstate"
	"github.com/compozy/notebook/engine/infra/server/router"
	"github.com/compozy/notebook/engine/knowledge"
	"github.com/compozy/notebook/engine/knowledge/document"
	"github.com/compozy/notebook/pkg/logger"
)

const (
	uploadField    = "file"
	uploadMessage  = "vector embedding make successfully"
	chatMessage    = "AI generated response"
	defaultUpMime  = "application/octet-stream"
	errMsgNoFile   = "file is required"
	errMsgNoQuery  = "query is required"
	errMsgBadQuery = "request body must be JSON with a query field"
)

// FileData describes the uploaded file as received.
type FileData struct {
	Filename string `json:"filename" example:"notes.pdf"`
	Type     string `json:"type"     example:"application/pdf"`
	Size     int64  `json:"size"     example:"52314"`
}

// UploadResponse is returned after a document has been indexed.
type UploadResponse struct {
	FileData FileData `json:"file_data"`
	Chunks   int      `json:"chunks"`
}

// ChatRequest carries a single chat query.
type ChatRequest struct {
	Query string `json:"query" example:"What is the refund policy?"`
}

// uploadDocument handles POST /upload.
//
// @Summary Upload a document
// @Description Parse a PDF or CSV file, embed its chunks and write them to the vector index.
// @Tags knowledge
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "PDF or CSV document"
// @Success 200 {object} router.Response{data=knowledgerouter.UploadResponse}
// @Failure 400 {object} core.ErrorBody "Missing file or empty document"
// @Failure 413 {object} core.ErrorBody "Upload exceeds the size limit"
// @Failure 415 {object} core.ErrorBody "Unsupported file type"
// @Failure 502 {object} core.ErrorBody "Embedding or index failure"
// @Router /upload [post]
func uploadDocument(c *gin.Context) {
	state, ok := stateFrom(c)
	if !ok {
		return
	}
	header, err := c.FormFile(uploadField)
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			router.RespondError(c, err)
			return
		}
		router.RespondError(c, core.NewError(core.KindValidation, errMsgNoFile, err))
		return
	}
	ctx := c.Request.Context()
	file, err := header.Open()
	if err != nil {
		router.RespondError(c, core.NewError(core.KindValidation, "uploaded file is not readable", err))
		return
	}
	defer file.Close()
	staged, err := document.Store(ctx, state.UploadDir, header.Filename, file)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	defer func() {
		if cleanupErr := staged.Cleanup(); cleanupErr != nil {
			logger.FromContext(ctx).Warn("Failed to remove staged upload", "path", staged.Path, "error", cleanupErr)
		}
	}()
	mime := strings.TrimSpace(header.Header.Get("Content-Type"))
	if mime == "" {
		mime = defaultUpMime
	}
	result := state.Ingest.Run(ctx, knowledge.UploadedDocument{
		FileName:    header.Filename,
		MimeType:    mime,
		ByteSize:    staged.Size,
		StoragePath: staged.Path,
	})
	if !result.OK() {
		router.RespondError(c, result.Err)
		return
	}
	router.RespondOK(c, uploadMessage, UploadResponse{
		FileData: FileData{Filename: header.Filename, Type: mime, Size: staged.Size},
		Chunks:   result.Chunks,
	})
}

// chat handles POST /chat.
//
// @Summary Ask a question
// @Description Retrieve the most relevant chunks and answer from them only.
// @Tags knowledge
// @Accept json
// @Produce json
// @Param request body knowledgerouter.ChatRequest true "Chat query"
// @Success 200 {object} router.Response{data=generation.Response}
// @Failure 400 {object} core.ErrorBody "Missing query"
// @Failure 404 {object} core.ErrorBody "No document has been uploaded"
// @Failure 502 {object} core.ErrorBody "Embedding or generation failure"
// @Failure 504 {object} core.ErrorBody "Upstream timeout"
// @Router /chat [post]
func chat(c *gin.Context) {
	state, ok := stateFrom(c)
	if !ok {
		return
	}
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		router.RespondError(c, core.NewError(core.KindValidation, errMsgBadQuery, err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		router.RespondError(c, core.ValidationError(errMsgNoQuery))
		return
	}
	result := state.Query.Run(c.Request.Context(), req.Query)
	if !result.OK() {
		router.RespondError(c, result.Err)
		return
	}
	router.RespondOK(c, chatMessage, result.Response)
}

func stateFrom(c *gin.Context) (*appstate.State, bool) {
	state, err := appstate.GetState(c.Request.Context())
	if err != nil {
		router.RespondError(c, core.NewError(core.KindInternal, "application state not initialized", err))
		return nil, false
	}
	return state, true
}
