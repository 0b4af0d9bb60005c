package domain

import "time"

// Owner identifies which logical recorder holds the microphone.
type Owner string

const (
	OwnerCommand Owner = "command"
	OwnerClip    Owner = "clip"
)

func (o Owner) Valid() bool {
	return o == OwnerCommand || o == OwnerClip
}

// PermissionState is the microphone permission as last observed.
type PermissionState string

const (
	PermissionUnknown PermissionState = "unknown"
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
)

// Action names understood by the dispatcher.
const (
	ActionRespondAudioOnly = "respondAudioOnly"
	ActionStartExercise    = "startExercise"
	ActionChangeBackground = "changeBackground"
	ActionStartCall        = "startCall"
)

// IntentResult is what the intent service returns for one spoken command.
type IntentResult struct {
	Action    string `json:"action,omitempty"`
	ContactID string `json:"contact_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Reply     string `json:"reply,omitempty"`
}

type Contact struct {
	ID           string `json:"_id" msgpack:"id"`
	Name         string `json:"name" msgpack:"name"`
	ProfileImage string `json:"profileImage,omitempty" msgpack:"profile_image,omitempty"`
}

type Background struct {
	Data string `json:"data" msgpack:"data"`
	IsVR string `json:"isVR" msgpack:"is_vr"`
}

// UserProfile is the payload of GET /api/otc/{token}. Flags arrive as the
// strings "true"/"false".
type UserProfile struct {
	OTC            string       `json:"otc" msgpack:"otc"`
	Name           string       `json:"name" msgpack:"name"`
	Contacts       []Contact    `json:"contacts" msgpack:"contacts"`
	Backgrounds    []Background `json:"backgrounds" msgpack:"backgrounds"`
	IsCloudEnabled string       `json:"isCloudEnabled" msgpack:"is_cloud_enabled"`
	IsSnowEnabled  string       `json:"isSnowEnabled" msgpack:"is_snow_enabled"`
}

func (p UserProfile) CloudEnabled() bool { return p.IsCloudEnabled == "true" }
func (p UserProfile) SnowEnabled() bool  { return p.IsSnowEnabled == "true" }

// Contact looks up a contact by id.
func (p UserProfile) Contact(id string) (Contact, bool) {
	for _, c := range p.Contacts {
		if c.ID == id {
			return c, true
		}
	}
	return Contact{}, false
}

// NotificationStatus is the severity shown to the user.
type NotificationStatus string

const (
	StatusInfo    NotificationStatus = "info"
	StatusSuccess NotificationStatus = "success"
	StatusWarning NotificationStatus = "warning"
	StatusError   NotificationStatus = "error"
)

const DefaultNotificationDuration = 9 * time.Second

// Notification is a short user-facing message.
type Notification struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Status      NotificationStatus `json:"status"`
	Duration    time.Duration      `json:"duration"`
}

// Clip is one finished, encoded recording.
type Clip struct {
	Data     []byte
	MimeType string
	Duration time.Duration
}

// Status summarizes the daemon for the control socket.
type Status struct {
	Permission PermissionState  `json:"permission"`
	Blocked    bool             `json:"blocked"`
	Owners     map[Owner]string `json:"owners"`
	Playing    bool             `json:"playing"`
	Scene      int              `json:"scene"`
	Scenes     int              `json:"scenes"`
	User       string           `json:"user,omitempty"`
}
