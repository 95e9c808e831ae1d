package ui

// iconBytes is a 16x16 PNG used for the tray icon.
var iconBytes = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 0x10,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0xf3, 0xff, 0x61, 0x00, 0x00, 0x00,
	0x22, 0x49, 0x44, 0x41, 0x54, 0x78, 0xda, 0x63, 0x70, 0xd3, 0xa8, 0xf8,
	0x4f, 0x09, 0x66, 0x00, 0x11, 0x4d, 0x51, 0x27, 0xc8, 0xc2, 0xa3, 0x06,
	0x8c, 0x1a, 0x30, 0x6a, 0x00, 0xb5, 0x0d, 0xa0, 0x04, 0x03, 0x00, 0xee,
	0xad, 0x76, 0x97, 0x21, 0x77, 0x39, 0xf5, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}
