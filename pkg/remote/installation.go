package remote

import "github.com/google/uuid"

// Installation is a record of the _Installation class describing one app
// install that can receive push notifications.
type Installation struct {
	Object
}

// NewInstallation returns an unsaved installation with a fresh
// installationId.
func NewInstallation(deviceType string) (*Installation, error) {
	in := &Installation{}
	in.init(InstallationClass, "")
	if err := in.Set("installationId", uuid.NewString()); err != nil {
		return nil, err
	}
	if err := in.Set("deviceType", deviceType); err != nil {
		return nil, err
	}
	return in, nil
}

func (in *Installation) InstallationID() string {
	s, _ := in.GetString("installationId")
	return s
}

func (in *Installation) DeviceType() string {
	s, _ := in.GetString("deviceType")
	return s
}

func (in *Installation) SetDeviceToken(token string) error {
	return in.Set("deviceToken", token)
}

// Subscribe adds channels to the installation's push channels.
func (in *Installation) Subscribe(channels ...string) error {
	vals := make([]any, len(channels))
	for i, ch := range channels {
		vals[i] = ch
	}
	return in.AddUnique("channels", vals...)
}

func (in *Installation) Unsubscribe(channels ...string) error {
	vals := make([]any, len(channels))
	for i, ch := range channels {
		vals[i] = ch
	}
	return in.Remove("channels", vals...)
}

func (in *Installation) beforeSave() error {
	if in.id == "" {
		if in.InstallationID() == "" {
			return &Error{Code: ValidationFailed, Message: "installationId required"}
		}
		if in.DeviceType() == "" {
			return &Error{Code: ValidationFailed, Message: "deviceType required"}
		}
	}
	return nil
}
