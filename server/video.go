package server

import (
	"errors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"net/http"
	"recording-ingest/constant"
	"recording-ingest/service"
)

type videoHandler struct {
	upload service.UploadService
}

func newVideoHandler(upload service.UploadService) *videoHandler {
	return &videoHandler{upload: upload}
}

// uploadVideo accepts a whole recording as the "video" part of a multipart
// form together with the owner's "userId".
func (h *videoHandler) uploadVideo(c *gin.Context) {
	ctx := c.Request.Context()
	defer func() {
		if form := c.Request.MultipartForm; form != nil {
			if err := form.RemoveAll(); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to remove multipart temp files")
			}
		}
	}()

	file, err := c.FormFile("video")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": constant.MessageNoFile})
		return
	}
	f, err := file.Open()
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("filename", file.Filename).Msg("failed to open uploaded file")
		c.JSON(http.StatusInternalServerError, gin.H{"message": constant.MessageUploadFail})
		return
	}
	defer f.Close()

	err = h.upload.Upload(ctx, service.UploadRequest{
		UserId:      c.PostForm("userId"),
		Filename:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Body:        f,
		Size:        file.Size,
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": constant.MessageUploadStarted})
	case errors.Is(err, service.ErrMissingFile):
		c.JSON(http.StatusBadRequest, gin.H{"message": constant.MessageNoFile})
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"message": constant.MessageConflict})
	case errors.Is(err, service.ErrProcessingRefused):
		c.JSON(http.StatusInternalServerError, gin.H{"message": constant.MessageProcessingStartFail})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"message": constant.MessageUploadFail})
	}
}
