package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/sustainhub/internal/forum"
	"github.com/gin-gonic/gin"
)

type createPostRequestPayload struct {
	Title        string `json:"title"`
	Category     string `json:"category"`
	BusinessName string `json:"businessName"`
}

type voteRequestPayload struct {
	Direction string `json:"direction"`
}

type commentRequestPayload struct {
	Text string `json:"text"`
}

type listPostsResponsePayload struct {
	Posts []forum.PostView `json:"posts"`
}

func (h *httpHandler) handleListPosts(c *gin.Context) {
	views, err := h.forum.ListPosts(c.Request.Context(), sessionEmail(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, listPostsResponsePayload{Posts: views})
}

func (h *httpHandler) handleGetPost(c *gin.Context) {
	view, err := h.forum.GetPost(c.Request.Context(), c.Param("id"), sessionEmail(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleCreatePost(c *gin.Context) {
	var request createPostRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	post, err := h.forum.CreatePost(c.Request.Context(), forum.PostDraft{
		Title:        request.Title,
		Category:     request.Category,
		BusinessName: request.BusinessName,
		Author:       sessionEmail(c),
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, post)
}

// handleCastVote responds with the committed post so clients can confirm or roll back an
// optimistic local update.
func (h *httpHandler) handleCastVote(c *gin.Context) {
	var request voteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.forum.CastVote(c.Request.Context(), c.Param("id"), sessionEmail(c), request.Direction)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleAppendComment(c *gin.Context) {
	var request commentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	comment, err := h.forum.AppendComment(c.Request.Context(), c.Param("id"), sessionEmail(c), request.Text)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}
