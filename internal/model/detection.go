package model

import "fmt"

// Detection is one bounding box returned by the inference endpoint.
type Detection struct {
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	XMin       float64 `json:"x_min"`
	YMin       float64 `json:"y_min"`
	XMax       float64 `json:"x_max"`
	YMax       float64 `json:"y_max"`
}

// Scale returns a copy with x coordinates multiplied by sx and y by sy.
func (d Detection) Scale(sx, sy float64) Detection {
	d.XMin *= sx
	d.XMax *= sx
	d.YMin *= sy
	d.YMax *= sy
	return d
}

// Label is the text drawn next to the box.
func (d Detection) Label() string {
	return fmt.Sprintf("%s %.2f", d.ClassName, d.Confidence)
}

// Location is an optional geotag attached to requests and records.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (l Location) String() string {
	return fmt.Sprintf("%.6f, %.6f", l.Latitude, l.Longitude)
}
