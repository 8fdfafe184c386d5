// Package docs define a documentação OpenAPI da API, servida em /swagger.
package docs

import (
	"github.com/go-swagno/swagno"
	"github.com/go-swagno/swagno/components/endpoint"
	"github.com/go-swagno/swagno/components/http/response"
	"github.com/go-swagno/swagno/components/mime"
	"github.com/go-swagno/swagno/components/parameter"
)

// StudentData is the student payload returned by the API
type StudentData struct {
	ID        int64  `json:"id" example:"1"`
	StudentID string `json:"student_id" example:"2024001"`
	FirstName string `json:"first_name" example:"Maria"`
	LastName  string `json:"last_name" example:"Silva"`
	GroupName string `json:"group_name,omitempty" example:"turma-a"`
	CreatedAt string `json:"created_at" example:"2025-02-01T08:00:00Z"`
}

// ImageResultData is the per-image outcome of an enrollment upload
type ImageResultData struct {
	Index    int    `json:"index" example:"0"`
	Accepted bool   `json:"accepted" example:"true"`
	Reason   string `json:"reason,omitempty" example:"low_quality"`
	ImageID  int64  `json:"image_id,omitempty" example:"42"`
}

// RegisterStudentResponse is returned by POST /students/register
type RegisterStudentResponse struct {
	Student StudentData       `json:"student"`
	Images  []ImageResultData `json:"images,omitempty"`
}

// CheckInRequestBody is the manual check-in payload
type CheckInRequestBody struct {
	Image string `json:"image" example:"data:image/jpeg;base64,/9j/4AAQ..."`
}

// CheckInResponseData is returned by POST /attendance/check-in
type CheckInResponseData struct {
	Status       string      `json:"status" example:"success"`
	Student      StudentData `json:"student,omitempty"`
	Confidence   float32     `json:"confidence,omitempty" example:"0.87"`
	CheckInTime  string      `json:"check_in_time,omitempty" example:"2025-02-01T08:12:31Z"`
	AttendanceID int64       `json:"attendance_id,omitempty" example:"7"`
}

// RoomData is the room payload
type RoomData struct {
	ID       int64  `json:"id" example:"1"`
	Name     string `json:"name" example:"Sala 101"`
	IsActive bool   `json:"is_active" example:"true"`
}

// CameraData is the camera payload with runtime status
type CameraData struct {
	ID       int64  `json:"id" example:"3"`
	RoomID   int64  `json:"room_id" example:"1"`
	Name     string `json:"name" example:"Entrada"`
	RTSPURL  string `json:"rtsp_url" example:"rtsp://cam01.local/stream"`
	IsActive bool   `json:"is_active" example:"true"`
	Status   string `json:"status" example:"streaming"`
}

// OccupantData is one presence entry in a room
type OccupantData struct {
	StudentID  int64   `json:"student_id" example:"1"`
	CameraID   int64   `json:"camera_id" example:"3"`
	LastSeenAt string  `json:"last_seen_at" example:"2025-02-01T08:12:31Z"`
	Confidence float32 `json:"confidence" example:"0.91"`
}

// RoomPresenceData is the occupancy snapshot of one room
type RoomPresenceData struct {
	RoomID     int64          `json:"room_id" example:"1"`
	RoomName   string         `json:"room_name" example:"Sala 101"`
	Occupants  []OccupantData `json:"occupants"`
	TotalCount int            `json:"total_count" example:"2"`
}

// AttendanceStatsData is the dashboard counters payload
type AttendanceStatsData struct {
	TotalStudents   int64   `json:"total_students" example:"120"`
	TodayAttendance int64   `json:"today_attendance" example:"87"`
	WeekAttendance  int64   `json:"week_attendance" example:"410"`
	MonthAttendance int64   `json:"month_attendance" example:"1650"`
	AttendanceRate  float64 `json:"attendance_rate" example:"0.72"`
}

// ErrorResponse is the standard error envelope
type ErrorResponse struct {
	Code    string `json:"code" example:"STUDENT_NOT_FOUND"`
	Message string `json:"message" example:"Student not found"`
}

func NewSwagger() *swagno.Swagger {
	sw := swagno.New(swagno.Config{
		Title:       "Presença API",
		Version:     "v0.1.0",
		Description: "Real-time face-recognition attendance and room-presence tracking",
		Host:        "localhost:3000",
		Path:        "/v1",
	})

	endpoints := []*endpoint.EndPoint{
		endpoint.New(
			endpoint.POST,
			"/students/register",
			endpoint.WithTags("Students"),
			endpoint.WithSummary("Register a student with reference images"),
			endpoint.WithDescription("Creates the student and enrolls the uploaded reference images. Images that fail decoding, face detection or quality gates are reported per image, not rejected as a batch."),
			endpoint.WithConsume([]mime.MIME{mime.MIME("multipart/form-data")}),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(RegisterStudentResponse{}, "201", "Student registered"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "STUDENT_ALREADY_EXISTS", Message: "Student ID already registered"}, "409", "Conflict"),
				response.New(ErrorResponse{Code: "TOO_MANY_IMAGES", Message: "Image count exceeds the per-student limit"}, "422", "Unprocessable Entity"),
				response.New(ErrorResponse{Code: "VALIDATION_FAILED", Message: "Request validation failed"}, "422", "Unprocessable Entity"),
			}),
		),
		endpoint.New(
			endpoint.GET,
			"/students",
			endpoint.WithTags("Students"),
			endpoint.WithSummary("List students"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New([]StudentData{}, "200", "Students"),
			}),
		),
		endpoint.New(
			endpoint.GET,
			"/students/{student_id}",
			endpoint.WithTags("Students"),
			endpoint.WithSummary("Get a student by external id"),
			endpoint.WithParams(
				parameter.StrParam("student_id", parameter.Path, parameter.WithDescription("")),
			),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(StudentData{}, "200", "Student"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "STUDENT_NOT_FOUND", Message: "Student not found"}, "404", "Not Found"),
			}),
		),
		endpoint.New(
			endpoint.DELETE,
			"/students/{student_id}",
			endpoint.WithTags("Students"),
			endpoint.WithSummary("Delete a student"),
			endpoint.WithDescription("Removes the student, its reference images, index vectors, presence entries and attendance history."),
			endpoint.WithParams(
				parameter.StrParam("student_id", parameter.Path, parameter.WithDescription("")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(struct{}{}, "204", "Deleted"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "STUDENT_NOT_FOUND", Message: "Student not found"}, "404", "Not Found"),
			}),
		),
		endpoint.New(
			endpoint.POST,
			"/students/{student_id}/upload-images",
			endpoint.WithTags("Students"),
			endpoint.WithSummary("Add reference images to a student"),
			endpoint.WithParams(
				parameter.StrParam("student_id", parameter.Path, parameter.WithDescription("")),
			),
			endpoint.WithConsume([]mime.MIME{mime.MIME("multipart/form-data")}),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New([]ImageResultData{}, "200", "Per-image results"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "STUDENT_NOT_FOUND", Message: "Student not found"}, "404", "Not Found"),
				response.New(ErrorResponse{Code: "TOO_MANY_IMAGES", Message: "Image count exceeds the per-student limit"}, "422", "Unprocessable Entity"),
			}),
		),
		endpoint.New(
			endpoint.POST,
			"/attendance/check-in",
			endpoint.WithTags("Attendance"),
			endpoint.WithSummary("Manual check-in from a single photo"),
			endpoint.WithDescription("Runs recognition over a base64 JPEG and records today's attendance for the best match. Status is one of: success, already_attended, no_match, no_face, error."),
			endpoint.WithBody(CheckInRequestBody{}),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(CheckInResponseData{}, "200", "Check-in outcome"),
			}),
		),
		endpoint.New(
			endpoint.GET,
			"/attendance/today",
			endpoint.WithTags("Attendance"),
			endpoint.WithSummary("Today's attendance records"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(struct{}{}, "200", "Attendance records"),
			}),
		),
		endpoint.New(
			endpoint.GET,
			"/attendance/student/{student_id}",
			endpoint.WithTags("Attendance"),
			endpoint.WithSummary("Attendance history of a student"),
			endpoint.WithParams(
				parameter.StrParam("student_id", parameter.Path, parameter.WithDescription("")),
				parameter.StrParam("date_from", parameter.Query, parameter.WithDescription("YYYY-MM-DD, default 30 days ago")),
				parameter.StrParam("date_to", parameter.Query, parameter.WithDescription("YYYY-MM-DD, default today")),
			),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(struct{}{}, "200", "Attendance records"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "STUDENT_NOT_FOUND", Message: "Student not found"}, "404", "Not Found"),
			}),
		),
		endpoint.New(
			endpoint.GET,
			"/attendance/statistics",
			endpoint.WithTags("Attendance"),
			endpoint.WithSummary("Attendance dashboard counters"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(AttendanceStatsData{}, "200", "Statistics"),
			}),
		),
		endpoint.New(
			endpoint.POST,
			"/rooms",
			endpoint.WithTags("Rooms"),
			endpoint.WithSummary("Create a room"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(RoomData{}, "201", "Room created"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "ROOM_ALREADY_EXISTS", Message: "Room name already exists"}, "409", "Conflict"),
			}),
		),
		endpoint.New(
			endpoint.GET,
			"/rooms",
			endpoint.WithTags("Rooms"),
			endpoint.WithSummary("List rooms"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New([]RoomData{}, "200", "Rooms"),
			}),
		),
		endpoint.New(
			endpoint.PUT,
			"/rooms/{room_id}",
			endpoint.WithTags("Rooms"),
			endpoint.WithSummary("Rename or toggle a room"),
			endpoint.WithParams(
				parameter.IntParam("room_id", parameter.Path, parameter.WithDescription("")),
			),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(RoomData{}, "200", "Room updated"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "ROOM_NOT_FOUND", Message: "Room not found"}, "404", "Not found"),
			}),
		),
		endpoint.New(
			endpoint.POST,
			"/rooms/{room_id}/cameras",
			endpoint.WithTags("Cameras"),
			endpoint.WithSummary("Add a camera to a room"),
			endpoint.WithParams(
				parameter.IntParam("room_id", parameter.Path, parameter.WithDescription("")),
			),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(CameraData{}, "201", "Camera created"),
			}),
		),
		endpoint.New(
			endpoint.PUT,
			"/rooms/{room_id}/cameras/{camera_id}",
			endpoint.WithTags("Cameras"),
			endpoint.WithSummary("Update a camera"),
			endpoint.WithParams(
				parameter.IntParam("room_id", parameter.Path, parameter.WithDescription("")),
				parameter.IntParam("camera_id", parameter.Path, parameter.WithDescription("")),
			),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(CameraData{}, "200", "Camera updated"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "CAMERA_NOT_FOUND", Message: "Camera not found"}, "404", "Not found"),
			}),
		),
		endpoint.New(
			endpoint.POST,
			"/rooms/{room_id}/cameras/{camera_id}/start",
			endpoint.WithTags("Cameras"),
			endpoint.WithSummary("Start the camera worker"),
			endpoint.WithParams(
				parameter.IntParam("room_id", parameter.Path, parameter.WithDescription("")),
				parameter.IntParam("camera_id", parameter.Path, parameter.WithDescription("")),
			),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(struct{}{}, "200", "Worker status"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "STREAM_LIMIT_REACHED", Message: "Maximum number of simultaneous streams reached"}, "409", "Conflict"),
			}),
		),
		endpoint.New(
			endpoint.POST,
			"/rooms/{room_id}/cameras/{camera_id}/stop",
			endpoint.WithTags("Cameras"),
			endpoint.WithSummary("Stop the camera worker"),
			endpoint.WithParams(
				parameter.IntParam("room_id", parameter.Path, parameter.WithDescription("")),
				parameter.IntParam("camera_id", parameter.Path, parameter.WithDescription("")),
			),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(struct{}{}, "200", "Worker status"),
			}),
		),
		endpoint.New(
			endpoint.GET,
			"/rooms/{room_id}/presence",
			endpoint.WithTags("Presence"),
			endpoint.WithSummary("Current occupancy of a room"),
			endpoint.WithParams(
				parameter.IntParam("room_id", parameter.Path, parameter.WithDescription("")),
			),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(RoomPresenceData{}, "200", "Room occupancy"),
			}),
		),
		endpoint.New(
			endpoint.GET,
			"/rooms/presence/all",
			endpoint.WithTags("Presence"),
			endpoint.WithSummary("Occupancy of every room"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New([]RoomPresenceData{}, "200", "All rooms"),
			}),
		),
		endpoint.New(
			endpoint.GET,
			"/rooms/presence/student/{student_id}",
			endpoint.WithTags("Presence"),
			endpoint.WithSummary("Where a student currently is"),
			endpoint.WithParams(
				parameter.StrParam("student_id", parameter.Path, parameter.WithDescription("")),
			),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(struct{}{}, "200", "Location or present=false"),
			}),
		),
	}

	sw.AddEndpoints(endpoints)
	return sw
}
