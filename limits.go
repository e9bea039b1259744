package main

// minFramesPerBuffer guards against a misconfigured "frames_per_buffer"
// value driving the device into an impractically small realtime callback.
const minFramesPerBuffer = 64
