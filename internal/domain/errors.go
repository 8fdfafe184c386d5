package domain

import (
	"fmt"
)

type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Err:        err,
	}
}

// Pre-defined errors
var (
	ErrInternal = &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "An unexpected error occurred",
		StatusCode: 500,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: 400,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: 404,
	}

	ErrStudentNotFound = &AppError{
		Code:       "STUDENT_NOT_FOUND",
		Message:    "Student not found",
		StatusCode: 404,
	}

	ErrStudentExists = &AppError{
		Code:       "STUDENT_ALREADY_EXISTS",
		Message:    "Student ID already registered",
		StatusCode: 409,
	}

	ErrRoomNotFound = &AppError{
		Code:       "ROOM_NOT_FOUND",
		Message:    "Room not found",
		StatusCode: 404,
	}

	ErrRoomExists = &AppError{
		Code:       "ROOM_ALREADY_EXISTS",
		Message:    "Room name already exists",
		StatusCode: 409,
	}

	ErrCameraNotFound = &AppError{
		Code:       "CAMERA_NOT_FOUND",
		Message:    "Camera not found",
		StatusCode: 404,
	}

	ErrCameraNotRunning = &AppError{
		Code:       "CAMERA_NOT_RUNNING",
		Message:    "Camera is not streaming",
		StatusCode: 409,
	}

	ErrStreamLimit = &AppError{
		Code:       "STREAM_LIMIT_REACHED",
		Message:    "Maximum number of simultaneous streams reached",
		StatusCode: 409,
	}

	ErrInvalidImage = &AppError{
		Code:       "INVALID_IMAGE",
		Message:    "Invalid image format or corrupted file",
		StatusCode: 422,
	}

	ErrNoFaceDetected = &AppError{
		Code:       "NO_FACE_DETECTED",
		Message:    "No face detected in the image",
		StatusCode: 422,
	}

	ErrMultipleFaces = &AppError{
		Code:       "MULTIPLE_FACES",
		Message:    "Multiple faces detected, please provide image with single face",
		StatusCode: 422,
	}

	ErrLowQualityImage = &AppError{
		Code:       "LOW_QUALITY_IMAGE",
		Message:    "Image quality too low for reliable recognition",
		StatusCode: 422,
	}

	ErrTooManyImages = &AppError{
		Code:       "TOO_MANY_IMAGES",
		Message:    "Image count exceeds the per-student limit",
		StatusCode: 422,
	}

	ErrAttendanceExists = &AppError{
		Code:       "ATTENDANCE_EXISTS",
		Message:    "Attendance already recorded for this day",
		StatusCode: 409,
	}

	ErrValidationFailed = &AppError{
		Code:       "VALIDATION_FAILED",
		Message:    "Request validation failed",
		StatusCode: 422,
	}
)
