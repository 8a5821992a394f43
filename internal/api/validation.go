package api

import (
	"github.com/crowdwatch/crowdwatch/internal/apierr"
	"github.com/crowdwatch/crowdwatch/internal/model"
)

// cameraRegistration is the §6 POST /cameras/register wire body.
type cameraRegistration struct {
	CameraID   string `json:"camera_id"`
	EdgeNodeID string `json:"edge_node_id"`
	Location   string `json:"location"`
	Resolution string `json:"resolution"`
	FPS        int    `json:"fps"`
}

func (c cameraRegistration) toModel() model.Camera {
	return model.Camera{
		ID:         c.CameraID,
		EdgeID:     c.EdgeNodeID,
		Location:   c.Location,
		Resolution: c.Resolution,
		FPS:        c.FPS,
	}
}

func validateRegistration(c cameraRegistration) error {
	var errs apierr.MultiError
	if c.CameraID == "" {
		errs = append(errs, apierr.Invalid("camera_id", "camera_id is required"))
	}
	if c.FPS < 0 {
		errs = append(errs, apierr.Invalid("fps", "fps must not be negative"))
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// zonePayload is the §6 POST/PUT /zones wire body.
type zonePayload struct {
	CameraID    string       `json:"camera_id"`
	Name        string       `json:"name"`
	Type        string       `json:"type"`
	Polygon     []model.Point `json:"polygon"`
	MaxCapacity int          `json:"max_capacity"`
}

func (z zonePayload) toModel() model.Zone {
	return model.Zone{
		CameraID:    z.CameraID,
		Name:        z.Name,
		Type:        model.ZoneType(z.Type),
		Polygon:     z.Polygon,
		MaxCapacity: z.MaxCapacity,
	}
}
