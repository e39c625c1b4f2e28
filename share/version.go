package gwshare

// BuildVersion is the version reported on /version; set with
// -ldflags "-X github.com/sammck-go/wsgateway/share.BuildVersion=..."
var BuildVersion = "0.0.0-src"
