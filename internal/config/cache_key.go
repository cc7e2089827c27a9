package config

import (
	"fmt"
	"strings"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ActiveSessionPointerKey returns the key holding the id of the identity's
// in-progress session for a subject. Subject ids are matched case-insensitively.
func (r *CacheKeyStruct) ActiveSessionPointerKey(userID, subjectID string) string {
	return fmt.Sprintf("identity:%s:subject:%s:active_session", userID, strings.ToLower(subjectID))
}

// SubjectQuestionsKey returns the cache key for a subject/chapter question listing.
func (r *CacheKeyStruct) SubjectQuestionsKey(subjectID, chapterID string) string {
	if chapterID == "" {
		chapterID = "all"
	}
	return fmt.Sprintf("subject:%s:chapter:%s:questions", strings.ToLower(subjectID), chapterID)
}

var CacheKey = NewCacheKeyStruct()
