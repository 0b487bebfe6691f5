package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the cache key holding the JTI of a student's single active login
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("login:%d", studentID)
}

// StudentAnswersKey returns the cache key for a student's autosaved answers
func (r *CacheKeyStruct) StudentAnswersKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:answers", studentID, examID)
}

// StudentWarningsKey returns the hash of per-category warning counts for a student's attempt
func (r *CacheKeyStruct) StudentWarningsKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:warnings", studentID, examID)
}

// ExamAnswerKey returns the cache key for an exam's answer key
func (r *CacheKeyStruct) ExamAnswerKey(examID string) string {
	return fmt.Sprintf("exam:%s:key", examID)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()
