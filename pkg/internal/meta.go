package pkg

const AppName = "Hypernet.Stickerbox"

var AppVersion = "1.0.0"
