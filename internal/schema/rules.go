package schema

import (
	v4 "github.com/jbweber/anvil/api/v4"
)

// fieldType is the type a document field must have.
type fieldType int

const (
	typeString fieldType = iota
	typeInt
	typeBool
	typeMemory
	typeDisk
	typeRef
	typeEnum
	typeList
	typeObject
)

func (t fieldType) String() string {
	switch t {
	case typeString:
		return "a string"
	case typeInt:
		return "an integer"
	case typeBool:
		return "a boolean"
	case typeMemory, typeDisk:
		return "a size (e.g. 4GB, 512MB or an integer)"
	case typeRef:
		return "a name or a positive integer id"
	case typeEnum:
		return "one of the allowed values"
	case typeList:
		return "a list"
	case typeObject:
		return "a mapping"
	default:
		return "unknown"
	}
}

// field declares one key of a document object.
type field struct {
	typ      fieldType
	required bool
	// def is applied when the key is absent.
	def  any
	enum []string
	min  *int
	max  *int
	// item describes list entries and nested objects.
	item objectRules
}

// objectRules maps the keys of an object to their declarations. Keys that
// are not declared are rejected.
type objectRules map[string]field

func intPtr(n int) *int { return &n }

var driveRules = objectRules{
	"name":           {typ: typeString},
	"description":    {typ: typeString},
	"media":          {typ: typeEnum, enum: v4.DriveMedias, def: string(v4.DriveMediaDisk)},
	"interface":      {typ: typeEnum, enum: v4.DriveInterfaces, def: "virtio-scsi"},
	"size":           {typ: typeDisk},
	"preferred_tier": {typ: typeInt, min: intPtr(1), max: intPtr(5), def: 3},
	"media_source":   {typ: typeRef},
	"enabled":        {typ: typeBool, def: true},
	"order":          {typ: typeInt, min: intPtr(0)},
}

var nicRules = objectRules{
	"network":     {typ: typeRef, required: true},
	"name":        {typ: typeString},
	"description": {typ: typeString},
	"interface":   {typ: typeEnum, enum: v4.NICInterfaces, def: "virtio"},
	"enabled":     {typ: typeBool, def: true},
	"mac":         {typ: typeString},
}

var deviceRules = objectRules{
	"type":    {typ: typeEnum, enum: v4.DeviceTypes, required: true},
	"name":    {typ: typeString},
	"model":   {typ: typeEnum, enum: v4.TPMModels, def: "crb"},
	"version": {typ: typeEnum, enum: v4.TPMVersions, def: "2.0"},
}

var cloudInitFileRules = objectRules{
	"name":    {typ: typeEnum, enum: v4.CloudInitFiles, required: true},
	"content": {typ: typeString, required: true},
}

var cloudInitRules = objectRules{
	"datasource": {typ: typeEnum, enum: v4.Datasources, def: string(v4.DatasourceNoCloud)},
	"files":      {typ: typeList, item: cloudInitFileRules},
}

var vmRules = objectRules{
	"name":           {typ: typeString, required: true},
	"description":    {typ: typeString},
	"enabled":        {typ: typeBool, def: true},
	"os_family":      {typ: typeEnum, enum: v4.OSFamilies, required: true},
	"os_description": {typ: typeString},

	"cpu_cores": {typ: typeInt, min: intPtr(1), def: 1},
	"cpu_type":  {typ: typeString, def: "auto"},
	"ram":       {typ: typeMemory, def: "1GB"},

	"machine_type":  {typ: typeEnum, enum: v4.MachineTypes, def: string(v4.MachineTypeQ35)},
	"boot_order":    {typ: typeEnum, enum: v4.BootOrders, def: "cd"},
	"allow_hotplug": {typ: typeBool, def: true},
	"uefi":          {typ: typeBool, def: false},
	"secure_boot":   {typ: typeBool, def: false},

	"console":     {typ: typeEnum, enum: v4.Consoles, def: string(v4.ConsoleVNC)},
	"video":       {typ: typeEnum, enum: v4.Videos, def: "std"},
	"guest_agent": {typ: typeBool, def: false},
	"rtc_base":    {typ: typeEnum, enum: v4.RTCBases, def: string(v4.RTCBaseUTC)},

	"cluster":          {typ: typeRef},
	"failover_cluster": {typ: typeRef},
	"preferred_node":   {typ: typeRef},
	"ha_group":         {typ: typeRef},
	"snapshot_profile": {typ: typeRef},

	"power_on_after_create": {typ: typeBool, def: false},
	"advanced_options":      {typ: typeString},

	"drives":    {typ: typeList, item: driveRules},
	"nics":      {typ: typeList, item: nicRules},
	"devices":   {typ: typeList, item: deviceRules},
	"cloudinit": {typ: typeObject, item: cloudInitRules},
}

// rootKeys are the keys allowed at the top of a document.
var rootKeys = map[string]bool{
	"apiVersion": true,
	"kind":       true,
	"vars":       true,
	"vm":         true,
	"defaults":   true,
	"vms":        true,
}
