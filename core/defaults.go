package core

var defaultProfiles = []DemographicProfile{
	MustProfile("1",
		Scalar("age", 32),
		Scalar("gender", "female"),
		Scalar("income", "$72k"),
		Scalar("location", "San Francisco"),
		Scalar("occupation", "software engineer"),
		Scalar("education", "bachelor's"),
		List("interests", "hiking", "yoga", "tech gadgets", "travel", "sustainability"),
	),
	MustProfile("2",
		Scalar("age", 45),
		Scalar("gender", "male"),
		Scalar("income", "$50k"),
		Scalar("location", "Detroit"),
		Scalar("occupation", "car mechanic"),
		Scalar("education", "trade school"),
		List("interests", "craft beer", "cars", "rock", "fast food", "darts", "family"),
	),
	MustProfile("3",
		Scalar("age", 21),
		Scalar("gender", "female"),
		Scalar("income", "$18k"),
		Scalar("location", "Austin"),
		Scalar("occupation", "college student"),
		Scalar("education", "undergraduate"),
		List("interests", "music festivals", "thrifting", "vlogging", "coffee", "social media"),
	),
}

// DefaultProfiles returns the built-in sample consumer panel.
func DefaultProfiles() []DemographicProfile {
	return append([]DemographicProfile{}, defaultProfiles...)
}
