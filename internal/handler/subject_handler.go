package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-quiz/internal/model"
	"github.com/stemsi/exstem-quiz/internal/response"
	"github.com/stemsi/exstem-quiz/internal/service"
	"github.com/stemsi/exstem-quiz/internal/validator"
)

type SubjectHandler struct {
	subjectService  *service.SubjectService
	questionService *service.QuestionService
}

func NewSubjectHandler(subjectService *service.SubjectService, questionService *service.QuestionService) *SubjectHandler {
	return &SubjectHandler{subjectService: subjectService, questionService: questionService}
}

// GetAll godoc
// GET /api/v1/subjects
func (h *SubjectHandler) GetAll(c *gin.Context) {
	subjects, err := h.subjectService.GetAll(c.Request.Context())
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"subjects": subjects})
}

// ListQuestions godoc
// GET /api/v1/subjects/:subject_id/questions?chapter=
// Returns the question pool without correct answers.
func (h *SubjectHandler) ListQuestions(c *gin.Context) {
	var q model.QuestionListQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	questions, err := h.questionService.ListForSubject(c.Request.Context(), c.Param("subject_id"), q.ChapterID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"questions": service.StudentView(questions)})
}
