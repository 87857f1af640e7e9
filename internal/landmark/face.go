package landmark

import "strconv"

// NumFaceLandmarks is the face mesh size with iris refinement enabled (468 + 10 iris points).
const NumFaceLandmarks = 478

// faceOval lists the mesh indices around the face outline, clockwise from the forehead.
var faceOval = []int{
	10, 338, 297, 332, 284, 251, 389, 356, 454, 323, 361, 288,
	397, 365, 379, 378, 400, 377, 152, 148, 176, 149, 150, 136,
	172, 58, 132, 93, 234, 127, 162, 21, 54, 103, 67, 109,
}

// FaceOvalConnections closes faceOval into a loop of segments.
var FaceOvalConnections = func() [][2]int {
	conns := make([][2]int, len(faceOval))
	for i := range faceOval {
		conns[i] = [2]int{faceOval[i], faceOval[(i+1)%len(faceOval)]}
	}
	return conns
}()

// faceNames numbers the mesh points; MediaPipe publishes no names for them.
// Stored as strings so the landmark column has one type across kinds.
func faceNames() []string {
	names := make([]string, NumFaceLandmarks)
	for i := range names {
		names[i] = strconv.Itoa(i)
	}
	return names
}
